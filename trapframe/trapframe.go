// Package trapframe defines the fixed register layout pushed on kernel
// entry: first by hardware (error code, eip, cs, eflags, and — on a
// privilege-level change — esp/ss), then by the trap stub (general
// registers and segment selectors), then trapno itself. See spec.md §3.
//
// It is its own package, rather than living in trap or proc, because both
// of those packages need the type: proc carves one into each process's
// kernel stack, and trap reads/writes it on every entry and return.
package trapframe

// Frame is the trap frame, laid out exactly as vm.c/trap.c's
// struct trapframe: pushed in reverse declaration order by the hardware
// and the trap stub.
type Frame struct {
	// Registers pushed by the trap stub's pusha-equivalent.
	Edi, Esi, Ebp, Oesp, Ebx, Edx, Ecx, Eax uint32

	// Segment selectors pushed by the trap stub.
	Gs, Fs, Es, Ds uint16

	// Trap number, set by the stub.
	Trapno uint32

	// Pushed by the processor (or, for software exceptions without one, a
	// zero forced by the stub).
	Err uint32

	// Pushed by the processor on every trap.
	Eip    uint32
	Cs     uint16
	Eflags uint32

	// Pushed by the processor only when crossing from user to kernel mode.
	Esp uint32
	Ss  uint16
}
