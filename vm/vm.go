// Package vm implements the kernel's virtual memory layer: two-level page
// tables, the fixed kernel mapping shared by every address space, and the
// user address-space grow/shrink/copy/free/copy-in-out operations. See
// spec.md §4.3.
//
// Because this module runs as an ordinary Go process rather than on bare
// metal, "physical memory" is a caller-supplied arena (mem.Allocator.Arena)
// and a page table's entries are read and written as ordinary bytes at a
// physical offset into that arena, instead of through a hardware MMU. The
// algorithms themselves — walkpgdir's lazy table allocation, mappages'
// remap panic, allocuvm/deallocuvm's rollback behaviour — are unchanged
// from the original vm.c; only the storage substrate differs.
//
// Grounded on the teacher's vm.Vm_t (biscuit's src/vm/as.go) for the
// address-space struct shape, simplified to the spec's two-level,
// non-demand-paged, non-COW semantics. AddressSpace carries no lock of its
// own; the only lock its operations take is the allocator's.
package vm

import (
	"encoding/binary"
	"fmt"

	"xv6core/config"
	"xv6core/cpu"
	"xv6core/defs"
	"xv6core/mem"
)

// PTE is a 32-bit page-table or page-directory entry: a 20-bit frame
// number and 12 bits of flags, per spec.md §3.
type PTE uint32

// MakePTE builds an entry from a page-aligned physical address and flags.
func MakePTE(pa uintptr, flags uint32) PTE {
	return PTE(uint32(pa&^0xFFF) | flags&0xFFF)
}

func (p PTE) Present() bool    { return uint32(p)&config.PTE_P != 0 }
func (p PTE) Writable() bool   { return uint32(p)&config.PTE_W != 0 }
func (p PTE) User() bool       { return uint32(p)&config.PTE_U != 0 }
func (p PTE) Addr() uintptr    { return uintptr(p) &^ 0xFFF }
func (p PTE) Flags() uint32    { return uint32(p) & 0xFFF }
func (p PTE) WithFlags(f uint32) PTE {
	return MakePTE(p.Addr(), f)
}

// KMapEntry describes one static kernel-mapping region, the Go shape of
// vm.c's kmap[] table.
type KMapEntry struct {
	VirtStart uintptr
	PhysStart uintptr
	PhysEnd   uintptr
	Perm      uint32 // PTE_W, PTE_U etc; PTE_P is implied
}

// AddressSpace is one process's (or the kernel's) page directory plus the
// allocator it draws page-table frames and user frames from.
type AddressSpace struct {
	Alloc *mem.Allocator
	Pgdir uintptr // physical address of the page directory frame
}

func (as *AddressSpace) readPTE(tablePA uintptr, idx uintptr) PTE {
	off := tablePA + idx*4
	return PTE(binary.LittleEndian.Uint32(as.Alloc.Arena[off : off+4]))
}

func (as *AddressSpace) writePTE(tablePA uintptr, idx uintptr, v PTE) {
	off := tablePA + idx*4
	binary.LittleEndian.PutUint32(as.Alloc.Arena[off:off+4], uint32(v))
}

func (as *AddressSpace) zeroFrame(pa uintptr) {
	frame := as.Alloc.Arena[pa : pa+config.PGSIZE]
	for i := range frame {
		frame[i] = 0
	}
}

// walkpgdirRead locates the page-table frame and index holding va's PTE
// without allocating. ok is false if the covering page-directory entry is
// absent. Every read-only walk (GetPTE, Clearpteu, Deallocuvm's
// no-page-table skip) goes through this, never through the allocating
// Walkpgdir below, so a lookup can never be the thing that makes an
// allocator call look like it needs a CPU identity.
func (as *AddressSpace) walkpgdirRead(va uintptr) (tablePA uintptr, idx uintptr, ok bool) {
	pde := as.readPTE(as.Pgdir, config.PDX(va))
	if !pde.Present() {
		return 0, 0, false
	}
	return pde.Addr(), config.PTX(va), true
}

// Walkpgdir locates the page-table frame and index holding va's PTE,
// allocating and zeroing a fresh page-table frame and installing it in the
// directory with P|W|U if the covering page-directory entry is absent
// (matching the original: directory-entry permissions are always maximal,
// the leaf PTE is what actually restricts access). cpuIdx/state identify
// the calling CPU to the allocator's lock.
func (as *AddressSpace) Walkpgdir(cpuIdx int, state *cpu.State, va uintptr) (tablePA uintptr, idx uintptr, ok bool) {
	pdeIdx := config.PDX(va)
	pde := as.readPTE(as.Pgdir, pdeIdx)
	if pde.Present() {
		return pde.Addr(), config.PTX(va), true
	}
	pa, err := as.Alloc.Kalloc(cpuIdx, state)
	if err != nil {
		return 0, 0, false
	}
	as.zeroFrame(pa)
	as.writePTE(as.Pgdir, pdeIdx, MakePTE(pa, config.PTE_P|config.PTE_W|config.PTE_U))
	return pa, config.PTX(va), true
}

// GetPTE reads the PTE mapping va, without allocating. ok is false if no
// page table covers va.
func (as *AddressSpace) GetPTE(va uintptr) (PTE, bool) {
	tablePA, idx, ok := as.walkpgdirRead(va)
	if !ok {
		return 0, false
	}
	return as.readPTE(tablePA, idx), true
}

// Mappages installs PTEs for every page in [PGROUNDDOWN(va),
// PGROUNDDOWN(va+size-1)], mapping consecutive physical frames starting at
// pa. It panics on "remap" if any covered PTE is already present, matching
// the original's unconditional panic("remap").
func (as *AddressSpace) Mappages(cpuIdx int, state *cpu.State, va uintptr, size uintptr, pa uintptr, perm uint32) error {
	a := config.PGROUNDDOWN(va)
	last := config.PGROUNDDOWN(va + size - 1)
	for {
		tablePA, idx, ok := as.Walkpgdir(cpuIdx, state, a)
		if !ok {
			return defs.ErrOOM
		}
		if as.readPTE(tablePA, idx).Present() {
			panic(fmt.Sprintf("mappages: remap of va %#x", a))
		}
		as.writePTE(tablePA, idx, MakePTE(pa, perm|config.PTE_P))
		if a == last {
			break
		}
		a += config.PGSIZE
		pa += config.PGSIZE
	}
	return nil
}

// SetupKvm allocates a fresh, zeroed page directory and maps every region
// named in kmap into it, returning the ready-to-use kernel (or
// kernel-half-of-a-user) address space. On any allocation failure, the
// partial directory is freed and an error returned, matching setupkvm's
// "return 0 after freevm" behaviour.
func SetupKvm(cpuIdx int, state *cpu.State, alloc *mem.Allocator, kmap []KMapEntry) (*AddressSpace, error) {
	pgdirPA, err := alloc.Kalloc(cpuIdx, state)
	if err != nil {
		return nil, defs.ErrOOM
	}
	as := &AddressSpace{Alloc: alloc, Pgdir: pgdirPA}
	as.zeroFrame(pgdirPA)

	for _, region := range kmap {
		if region.PhysEnd-region.PhysStart >= uintptr(1)<<32 {
			panic("vm: kmap region overflows physical address space")
		}
		if err := as.Mappages(cpuIdx, state, region.VirtStart, region.PhysEnd-region.PhysStart, region.PhysStart, region.Perm); err != nil {
			as.Freevm(cpuIdx, state)
			return nil, err
		}
	}
	return as, nil
}

// Inituvm maps one page at virtual address 0, user-writable, and copies
// init into it. sz must be less than one page, matching the original's
// restriction that the very first process image is tiny.
func (as *AddressSpace) Inituvm(cpuIdx int, state *cpu.State, init []byte) error {
	if uintptr(len(init)) >= config.PGSIZE {
		panic("inituvm: init image too large for one page")
	}
	pa, err := as.Alloc.Kalloc(cpuIdx, state)
	if err != nil {
		return defs.ErrOOM
	}
	as.zeroFrame(pa)
	if err := as.Mappages(cpuIdx, state, 0, config.PGSIZE, pa, config.PTE_W|config.PTE_U); err != nil {
		return err
	}
	copy(as.Alloc.Arena[pa:pa+config.PGSIZE], init)
	return nil
}

// Reader is the subset of the out-of-scope inode layer Loaduvm needs:
// readi(dst, offset) -> n, err. Grounded on spec.md §6's `readi` external
// collaborator.
type Reader interface {
	Readi(dst []byte, offset int) (int, error)
}

// Loaduvm loads sz bytes from ip starting at file offset offset into the
// page(s) already mapped at addr. addr must be page-aligned; every
// covered page must already have a PTE (inituvm/allocuvm having run
// first).
func (as *AddressSpace) Loaduvm(addr uintptr, ip Reader, offset int, sz uintptr) error {
	if addr%config.PGSIZE != 0 {
		panic("loaduvm: addr not page-aligned")
	}
	for i := uintptr(0); i < sz; i += config.PGSIZE {
		pte, ok := as.GetPTE(addr + i)
		if !ok || !pte.Present() {
			panic("loaduvm: address not mapped")
		}
		pa := pte.Addr()
		n := config.PGSIZE
		if sz-i < config.PGSIZE {
			n = int(sz - i)
		}
		got, err := ip.Readi(as.Alloc.Arena[pa:pa+uintptr(n)], offset+int(i))
		if err != nil {
			return err
		}
		if got != n {
			return fmt.Errorf("loaduvm: short read at offset %d: got %d want %d", offset+int(i), got, n)
		}
	}
	return nil
}

// Allocuvm grows the user address space from oldsz to newsz, allocating
// and zeroing one frame per new page and mapping it user-writable. If
// newsz would reach into the kernel half or is smaller than oldsz, it
// returns (oldsz, nil) without allocating anything. On a mid-grow allocation failure, it rolls back via
// Deallocuvm and returns defs.ErrOOM, leaking no frames.
func (as *AddressSpace) Allocuvm(cpuIdx int, state *cpu.State, oldsz, newsz uintptr) (uintptr, error) {
	if newsz >= config.KERNBASE {
		return oldsz, nil
	}
	if newsz < oldsz {
		return oldsz, nil
	}
	a := config.PGROUNDUP(oldsz)
	for ; a < newsz; a += config.PGSIZE {
		pa, err := as.Alloc.Kalloc(cpuIdx, state)
		if err != nil {
			as.Deallocuvm(cpuIdx, state, a, oldsz)
			return oldsz, defs.ErrOOM
		}
		as.zeroFrame(pa)
		if err := as.Mappages(cpuIdx, state, a, config.PGSIZE, pa, config.PTE_W|config.PTE_U); err != nil {
			as.Alloc.Kfree(cpuIdx, state, pa)
			as.Deallocuvm(cpuIdx, state, a, oldsz)
			return oldsz, err
		}
	}
	return newsz, nil
}

// Deallocuvm shrinks the user address space from oldsz to newsz, freeing
// the physical frame backing every page above newsz. A page-directory
// region with no page table at all is skipped wholesale by advancing to
// the next directory boundary, matching the original's PDX-boundary skip.
func (as *AddressSpace) Deallocuvm(cpuIdx int, state *cpu.State, oldsz, newsz uintptr) uintptr {
	if newsz >= oldsz {
		return oldsz
	}
	a := config.PGROUNDUP(newsz)
	for ; a < oldsz; a += config.PGSIZE {
		tablePA, idx, ok := as.walkpgdirRead(a)
		if !ok {
			// No page table for this whole directory region: skip to its end.
			a = (config.PDX(a)+1)<<config.PDXSHIFT - config.PGSIZE
			continue
		}
		pte := as.readPTE(tablePA, idx)
		if pte.Present() {
			as.Alloc.Kfree(cpuIdx, state, pte.Addr())
			as.writePTE(tablePA, idx, 0)
		}
	}
	return newsz
}

// Freevm frees every user frame, every page-table frame, and the page
// directory itself, leaving the AddressSpace unusable.
func (as *AddressSpace) Freevm(cpuIdx int, state *cpu.State) {
	as.Deallocuvm(cpuIdx, state, config.KERNBASE, 0)
	for i := uintptr(0); i < config.NPDENTRIES; i++ {
		pde := as.readPTE(as.Pgdir, i)
		if pde.Present() {
			as.Alloc.Kfree(cpuIdx, state, pde.Addr())
		}
	}
	as.Alloc.Kfree(cpuIdx, state, as.Pgdir)
	as.Pgdir = 0
}

// Copyuvm builds a brand-new address space (kernel half plus a private
// copy of every user frame below sz) sharing no physical memory with the
// source. On any failure it frees the partial copy and returns an error.
func (as *AddressSpace) Copyuvm(cpuIdx int, state *cpu.State, kmap []KMapEntry, sz uintptr) (*AddressSpace, error) {
	dst, err := SetupKvm(cpuIdx, state, as.Alloc, kmap)
	if err != nil {
		return nil, err
	}
	for i := uintptr(0); i < sz; i += config.PGSIZE {
		pte, ok := as.GetPTE(i)
		if !ok || !pte.Present() {
			dst.Freevm(cpuIdx, state)
			return nil, fmt.Errorf("copyuvm: source page %#x not present", i)
		}
		pa, err := as.Alloc.Kalloc(cpuIdx, state)
		if err != nil {
			dst.Freevm(cpuIdx, state)
			return nil, defs.ErrOOM
		}
		copy(as.Alloc.Arena[pa:pa+config.PGSIZE], as.Alloc.Arena[pte.Addr():pte.Addr()+config.PGSIZE])
		if err := dst.Mappages(cpuIdx, state, i, config.PGSIZE, pa, pte.Flags()&^config.PTE_P); err != nil {
			as.Alloc.Kfree(cpuIdx, state, pa)
			dst.Freevm(cpuIdx, state)
			return nil, err
		}
	}
	return dst, nil
}

// Clearpteu clears the U flag of va's PTE, used to install the guard page
// just below a user stack.
func (as *AddressSpace) Clearpteu(va uintptr) {
	tablePA, idx, ok := as.walkpgdirRead(va)
	if !ok {
		panic("clearpteu: no pte for guard page")
	}
	pte := as.readPTE(tablePA, idx)
	as.writePTE(tablePA, idx, pte.WithFlags(pte.Flags()&^uint32(config.PTE_U)))
}

// Uva2ka translates a user virtual address to a slice over its backing
// physical frame, or ok=false if the page is absent or not user-
// accessible. This stands in for the original's "kernel virtual alias of
// the physical page" (P2V): since this module's "physical memory" is
// already addressable kernel-side as a plain Go slice, no separate
// direct-map translation is needed.
func (as *AddressSpace) Uva2ka(va uintptr) ([]byte, bool) {
	pte, ok := as.GetPTE(va)
	if !ok || !pte.Present() || !pte.User() {
		return nil, false
	}
	pa := pte.Addr()
	return as.Alloc.Arena[pa : pa+config.PGSIZE], true
}

// Copyout copies src into this address space starting at user virtual
// address va, crossing page boundaries and handling the first partial
// page, via Uva2ka page by page (it never assumes this AddressSpace is
// the one currently installed in CR3).
func (as *AddressSpace) Copyout(va uintptr, src []byte) error {
	for len(src) > 0 {
		pageBase := config.PGROUNDDOWN(va)
		ka, ok := as.Uva2ka(pageBase)
		if !ok {
			return fmt.Errorf("copyout: va %#x not mapped", va)
		}
		off := va - pageBase
		n := uintptr(config.PGSIZE) - off
		if n > uintptr(len(src)) {
			n = uintptr(len(src))
		}
		copy(ka[off:off+n], src[:n])
		src = src[n:]
		va = pageBase + config.PGSIZE
	}
	return nil
}
