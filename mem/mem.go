// Package mem implements the kernel's physical frame allocator: a single
// free-list of 4 KiB frames, threaded inline through the first bytes of
// each free frame, with no external per-frame metadata. See spec.md §4.2.
//
// Grounded on the teacher's mem.Physmem_t (biscuit's src/mem/mem.go) for
// the Go shape of a lock-guarded free-list allocator, simplified away from
// its refcounted, multi-free-list design per this module's explicit
// Non-goals (no SMP-scalable allocator, no copy-on-write refcounting): the
// algorithm itself follows the original kalloc.c exactly, including the
// "next" pointer threaded through the first bytes of the freed frame
// itself rather than kept in external metadata.
package mem

import (
	"encoding/binary"
	"fmt"

	"xv6core/config"
	"xv6core/cpu"
	"xv6core/defs"
	"xv6core/spinlock"
)

// nilRun is the sentinel "no next frame" value written into a free frame's
// link word; physical address 0 is a legitimate frame (the kernel never
// frees it, since it sits below kernelEnd), so 0 cannot double as nil.
const nilRun = ^uint64(0)

// Allocator is the kernel's single physical-frame free-list, threaded
// directly through a caller-supplied backing arena of physical memory
// (Arena), exactly as the original threads runs through real RAM. It is
// safe for concurrent use across CPUs once locking is enabled (kinit2);
// before that (kinit1) it must only be used by the bootstrap CPU.
type Allocator struct {
	Arena []byte // physical memory, indexed by physical address

	lk        *spinlock.Lock[int]
	useLock   bool
	freelist  uint64 // physical address of the free-list head, or nilRun
	kernelEnd uintptr
}

// NewAllocator returns an allocator over arena (representing physical
// addresses [0, len(arena))), whose locking is initially disabled to match
// kinit1's single-CPU phase. kernelEnd is the first physical address Kfree
// is willing to accept, matching the "v >= end" check in the original.
func NewAllocator(arena []byte, kernelEnd uintptr) *Allocator {
	return &Allocator{
		Arena:     arena,
		lk:        spinlock.New[int]("kmem"),
		freelist:  nilRun,
		kernelEnd: kernelEnd,
	}
}

// EnableLocking switches the allocator into its multi-CPU phase (kinit2):
// from this point on, Kalloc and Kfree take the lock.
func (a *Allocator) EnableLocking() { a.useLock = true }

// Kinit1 seeds the free-list over [vstart, vend) without taking the lock,
// for use before other CPUs are started. cpuIdx/state identify the
// bootstrap CPU calling in; they are unused while locking is disabled but
// are threaded through uniformly so freerange can hand them to Kfree.
func (a *Allocator) Kinit1(cpuIdx int, state *cpu.State, vstart, vend uintptr) {
	a.freerange(cpuIdx, state, vstart, vend)
}

// Kinit2 seeds the free-list over [vstart, vend) and enables locking, for
// use once additional CPUs may be running.
func (a *Allocator) Kinit2(cpuIdx int, state *cpu.State, vstart, vend uintptr) {
	a.freerange(cpuIdx, state, vstart, vend)
	a.EnableLocking()
}

func (a *Allocator) freerange(cpuIdx int, state *cpu.State, vstart, vend uintptr) {
	p := config.PGROUNDUP(vstart)
	for ; p+config.PGSIZE <= vend; p += config.PGSIZE {
		a.Kfree(cpuIdx, state, p)
	}
}

const poisonByte = 0xA5

// Kfree returns the frame at physical address v to the free-list. v must
// be page-aligned, at or above the kernel's end, and within the arena;
// otherwise Kfree panics, exactly as the original aborts on a bad free.
// The frame is poison-filled before being threaded onto the list, so a
// dangling reference to freed memory reads a recognizable pattern instead
// of plausible zero bytes.
func (a *Allocator) Kfree(cpuIdx int, state *cpu.State, v uintptr) {
	if v%config.PGSIZE != 0 {
		panic(fmt.Sprintf("kfree: unaligned frame %#x", v))
	}
	if v < a.kernelEnd {
		panic(fmt.Sprintf("kfree: frame %#x below kernel end %#x", v, a.kernelEnd))
	}
	if v+config.PGSIZE > uintptr(len(a.Arena)) {
		panic(fmt.Sprintf("kfree: frame %#x exceeds managed physical memory", v))
	}

	frame := a.Arena[v : v+config.PGSIZE]
	for i := range frame {
		frame[i] = poisonByte
	}

	if a.useLock {
		a.lk.Acquire(cpuIdx, state)
		defer a.lk.Release(cpuIdx, state)
	}
	binary.LittleEndian.PutUint64(frame[:8], a.freelist)
	a.freelist = uint64(v)
}

// Kalloc pops one frame off the free-list, returning its physical address.
// It returns defs.ErrOOM if the free-list is empty. The frame is NOT
// zeroed; callers that need zeroed memory must do it themselves (the VM
// layer always does, per spec.md §4.2's rationale: poison-on-free plus
// no-zero-on-alloc turns use of uninitialised memory into a predictable
// crash pattern instead of a silent one).
func (a *Allocator) Kalloc(cpuIdx int, state *cpu.State) (uintptr, error) {
	if a.useLock {
		a.lk.Acquire(cpuIdx, state)
		defer a.lk.Release(cpuIdx, state)
	}
	if a.freelist == nilRun {
		return 0, defs.ErrOOM
	}
	v := uintptr(a.freelist)
	frame := a.Arena[v : v+config.PGSIZE]
	a.freelist = binary.LittleEndian.Uint64(frame[:8])
	return v, nil
}

// Free reports the number of frames currently on the free-list, used by
// the out-of-memory test scenario in spec.md §8 to assert the free-list
// size is unchanged after an allocation is rolled back.
func (a *Allocator) Free() int {
	n := 0
	for r := a.freelist; r != nilRun; {
		n++
		r = binary.LittleEndian.Uint64(a.Arena[r : r+8])
	}
	return n
}
