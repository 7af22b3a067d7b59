// Package config holds the compile-time constants that size and lay out
// the kernel: process table size, CPU count, page geometry, and the split
// between user and kernel virtual address space.
package config

const (
	// NPROC is the fixed size of the process table.
	NPROC = 64
	// NCPU is the maximum number of CPUs the per-CPU tables are sized for.
	NCPU = 8
	// NOFILE is the number of open-file slots per process.
	NOFILE = 16

	// PGSIZE is the number of bytes mapped by one page-table leaf entry.
	PGSIZE = 4096
	// NPDENTRIES is the number of entries in a page directory.
	NPDENTRIES = 1024
	// NPTENTRIES is the number of entries in a page table.
	NPTENTRIES = 1024

	// PTXSHIFT is the bit offset of the page-table index in a linear address.
	PTXSHIFT = 12
	// PDXSHIFT is the bit offset of the page-directory index in a linear address.
	PDXSHIFT = 22

	// KSTACKSIZE is the size in bytes of a process's kernel stack.
	KSTACKSIZE = PGSIZE

	// KERNBASE is the first virtual address of the kernel half of every
	// address space. User virtual addresses live below it.
	KERNBASE = 0x80000000
	// KERNLINK is the virtual address kernel text is linked to start at.
	KERNLINK = KERNBASE + 0x100000
	// EXTMEM is the size, in bytes, of the low I/O hole mapped at KERNBASE.
	EXTMEM = 0x100000
	// PHYSTOP is the top of physical RAM this kernel manages.
	PHYSTOP = 0xE000000
	// DEVSPACE is the first virtual (and physical) address of device MMIO.
	DEVSPACE = 0xFE000000

	// PTE_P marks a page-table entry present.
	PTE_P = 0x001
	// PTE_W marks a page-table entry writable.
	PTE_W = 0x002
	// PTE_U marks a page-table entry user-accessible.
	PTE_U = 0x004
	// PTE_PS marks a page-directory entry as a large (4 MiB) page.
	PTE_PS = 0x080

	// FL_IF is the EFLAGS interrupt-enable bit.
	FL_IF = 0x00000200

	// Segment selectors, matching cpu.gdt[NSEGS] layout.
	SEG_KCODE = 1
	SEG_KDATA = 2
	SEG_UCODE = 3
	SEG_UDATA = 4
	SEG_TSS   = 5
	NSEGS     = 6

	// DPL_USER is the descriptor privilege level granted to user segments.
	DPL_USER = 3

	// T_SYSCALL is the trap-frame vector number of the syscall trap gate.
	T_SYSCALL = 64
	// T_IRQ0 is the vector number of the first remapped hardware IRQ.
	T_IRQ0 = 32

	IRQ_TIMER = 0
	IRQ_KBD   = 1
	IRQ_COM1  = 4
	IRQ_IDE   = 14
	IRQ_ERROR = 19
	IRQ_SPURIOUS = 31
)

// PGROUNDDOWN rounds a down to the nearest page boundary.
func PGROUNDDOWN(a uintptr) uintptr { return a &^ (PGSIZE - 1) }

// PGROUNDUP rounds sz up to the nearest page boundary.
func PGROUNDUP(sz uintptr) uintptr { return (sz + PGSIZE - 1) &^ (PGSIZE - 1) }

// PDX returns the page-directory index of a virtual address.
func PDX(va uintptr) uintptr { return (va >> PDXSHIFT) & 0x3FF }

// PTX returns the page-table index of a virtual address.
func PTX(va uintptr) uintptr { return (va >> PTXSHIFT) & 0x3FF }
