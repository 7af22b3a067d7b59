// Package defs holds the small set of shared identifiers the core packages
// need to agree on without importing each other: device numbers for the
// trap dispatcher's device-interrupt arms, and the sentinel errors the
// allocator, VM layer, and process table use for the uniform resource-
// exhaustion convention spec.md §9 asks for in place of the original's
// mixed null/-1 idioms.
package defs

import "errors"

// Device identifiers, carried over from the teacher's device numbering so
// a D_PROF-triggered diagnostic dump (see the profiling package) lines up
// with the same constant a real console/driver layer would use.
const (
	D_CONSOLE = 1
	D_RAWDISK = 5
	D_STAT    = 6
	D_PROF    = 7
)

// Sentinel errors. Every resource-exhaustion path in mem, vm, and proc
// returns one of these directly (so errors.Is matches it), rather than
// returning a bare nil/-1 the caller must know to check by convention.
var (
	// ErrOOM means the physical frame allocator's free-list is empty.
	ErrOOM = errors.New("xv6core: out of memory")
	// ErrNoProc means the process table has no free slot.
	ErrNoProc = errors.New("xv6core: no free process slot")
	// ErrNoChild means wait found no children to reap.
	ErrNoChild = errors.New("xv6core: no children")
)
