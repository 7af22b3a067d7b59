// Package cpu abstracts the handful of non-portable, privileged x86
// primitives the kernel core needs: interrupt enable/disable, segment and
// descriptor-table loads, CR3 loads, and atomic exchange. Everything else
// in this module is ordinary memory access.
//
// Two implementations satisfy Ops: Hardware, a thin shim over real
// privileged instructions (declared here, implemented in per-arch
// assembly), and Sim, a software model of one CPU's registers used by every
// package's tests and by the boot simulation in cmd/xv6core. Only Sim's
// Xchg is atomic; its flag and register fields are plain, unsynchronized
// fields.
package cpu

// Ops is the privileged-instruction bank a single logical CPU is built on.
type Ops interface {
	// Cli disables interrupts on this CPU.
	Cli()
	// Sti enables interrupts on this CPU.
	Sti()
	// Eflags returns the current EFLAGS register.
	Eflags() uint32
	// Lgdt loads the global descriptor table register.
	Lgdt(base uintptr, limit uint16)
	// Lidt loads the interrupt descriptor table register.
	Lidt(base uintptr, limit uint16)
	// Ltr loads the task register with a GDT selector.
	Ltr(selector uint16)
	// Lcr3 loads CR3 (the page-directory base register) with a physical address.
	Lcr3(pa uintptr)
	// Xchg atomically stores newval into *addr and returns the previous value.
	Xchg(addr *uint32, newval uint32) uint32
}

// State is the per-CPU bookkeeping layered on top of Ops to implement the
// pushcli/popcli nested interrupt-disable discipline spec.md §4.1 requires:
// the first pushcli latches the prior IF flag; popcli only re-enables
// interrupts once the nesting count returns to zero and that latched flag
// was set.
type State struct {
	Ops Ops

	Ncli   int
	Intena bool
}

// Pushcli disables interrupts, recording the previous IF state the first
// time the nesting count goes from zero to one.
func (s *State) Pushcli() {
	eflags := s.Ops.Eflags()
	s.Ops.Cli()
	if s.Ncli == 0 {
		s.Intena = eflags&0x200 != 0 // FL_IF
	}
	s.Ncli++
}

// Popcli undoes one Pushcli. It panics if interrupts are currently enabled
// (that indicates the critical section leaked an Sti) or if the nesting
// count would go negative.
func (s *State) Popcli() {
	if s.Ops.Eflags()&0x200 != 0 {
		panic("popcli - interruptible")
	}
	s.Ncli--
	if s.Ncli < 0 {
		panic("popcli: negative nesting")
	}
	if s.Ncli == 0 && s.Intena {
		s.Ops.Sti()
	}
}

// InterruptsDisabled reports whether this CPU currently has interrupts
// masked because of at least one outstanding Pushcli.
func (s *State) InterruptsDisabled() bool {
	return s.Ncli > 0
}
