// Package spinlock implements the kernel's sole mutual-exclusion
// primitive: a busy-wait lock that requires local interrupts disabled on
// the holding CPU for its whole critical section. See spec.md §4.1.
//
// A spinlock never blocks its goroutine on anything but its own word; the
// nested-cli bookkeeping lives in cpu.State, one instance per simulated
// CPU, exactly as spec.md's per-CPU record requires.
package spinlock

import (
	"fmt"
	"runtime"

	"xv6core/caller"
	"xv6core/cpu"
)

// Lock is a spinlock keyed by an opaque, comparable CPU identity (the
// caller supplies whatever identifies "this CPU": an APIC id, an index
// into a CPU table, ...). It is the Go shape of spec.md §3's
// {locked, name, holding-cpu, caller-PC[10]}.
type Lock[C comparable] struct {
	locked uint32 // 0 or 1, accessed only via cpu.Ops.Xchg and a plain atomic-equivalent store

	name    string
	holder  C
	hasHeld bool
	pcs     caller.Trace
}

// New returns an initialized, unheld lock with the given diagnostic name,
// the Go equivalent of initlock(lk, name).
func New[C comparable](name string) *Lock[C] {
	return &Lock[C]{name: name}
}

// Name reports the lock's diagnostic name.
func (l *Lock[C]) Name() string { return l.name }

// Acquire takes the lock. id identifies the calling CPU and state is that
// CPU's interrupt-nesting bookkeeping; Acquire disables interrupts first
// (pushcli) so that no interrupt on this CPU can ever try to recursively
// acquire a lock this CPU already holds.
func (l *Lock[C]) Acquire(id C, state *cpu.State) {
	state.Pushcli()
	if l.Holding(id) {
		panic(fmt.Sprintf("spinlock %q already held by this cpu, acquired at %s", l.name, l.pcs))
	}
	for state.Ops.Xchg(&l.locked, 1) != 0 {
		runtime.Gosched()
	}

	l.holder = id
	l.hasHeld = true
	l.pcs = caller.Capture(1)
}

// Holding reports whether id currently holds this lock.
func (l *Lock[C]) Holding(id C) bool {
	return l.hasHeld && l.holder == id
}

// Release drops the lock. It panics if id does not currently hold it,
// exactly like spec.md's assertion in release(lk).
func (l *Lock[C]) Release(id C, state *cpu.State) {
	if !l.Holding(id) {
		panic(fmt.Sprintf("spinlock %q: release by non-holder", l.name))
	}
	l.hasHeld = false
	var zero C
	l.holder = zero
	l.pcs = caller.Trace{}

	state.Ops.Xchg(&l.locked, 0)
	state.Popcli()
}

// CallerTrace returns the stack captured at the most recent successful
// Acquire, for procdump-style diagnostics.
func (l *Lock[C]) CallerTrace() caller.Trace { return l.pcs }
