package cpu

import "sync/atomic"

// Sim is a software model of one logical CPU's privileged register state,
// sufficient to drive spinlock.Lock, vm.AddressSpace, and proc.Scheduler
// through their test suites without real ring-0 access. Each simulated CPU
// (one goroutine in cmd/xv6core and in the proc package's multi-CPU tests)
// owns its own *Sim; the interrupt flag and descriptor-table "registers"
// below are private to that CPU, matching real hardware.
type Sim struct {
	ifSet bool
	gdt   struct {
		base  uintptr
		limit uint16
	}
	idt struct {
		base  uintptr
		limit uint16
	}
	tr  uint16
	cr3 uintptr
}

// NewSim returns a Sim with interrupts initially enabled, mirroring the
// state the CPU is in immediately after the boot loader hands off to the
// kernel.
func NewSim() *Sim {
	return &Sim{ifSet: true}
}

func (s *Sim) Cli() { s.ifSet = false }
func (s *Sim) Sti() { s.ifSet = true }

func (s *Sim) Eflags() uint32 {
	if s.ifSet {
		return 0x200
	}
	return 0
}

func (s *Sim) Lgdt(base uintptr, limit uint16) { s.gdt.base, s.gdt.limit = base, limit }
func (s *Sim) Lidt(base uintptr, limit uint16) { s.idt.base, s.idt.limit = base, limit }
func (s *Sim) Ltr(selector uint16)             { s.tr = selector }
func (s *Sim) Lcr3(pa uintptr)                 { s.cr3 = pa }

// Cr3 returns the physical address most recently loaded into CR3, letting
// tests assert which page directory a CPU believes is active.
func (s *Sim) Cr3() uintptr { return s.cr3 }

// Xchg is an atomic exchange over ordinary process memory: it is not
// per-CPU state, since on real hardware it is a bus-locked instruction
// visible to every CPU sharing the cache-coherent memory the address lives
// in. sync/atomic.SwapUint32 has exactly xchg's semantics.
func (s *Sim) Xchg(addr *uint32, newval uint32) uint32 {
	return atomic.SwapUint32(addr, newval)
}

var _ Ops = (*Sim)(nil)
