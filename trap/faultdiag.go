package trap

import (
	"golang.org/x/arch/x86/x86asm"

	"xv6core/trapframe"
)

// diagnoseFault decodes the instruction at the faulting eip (when the
// current process's address space has it mapped) and prints it through
// Console, so a general-protection/invalid-opcode kill names the actual
// offending instruction rather than a bare trap number. This is the only
// consumer of golang.org/x/arch in this module: decoding is cheap and
// only ever runs on the already-slow "we are about to kill this process"
// path.
func (d *Dispatcher) diagnoseFault(cpuIdx int, tf *trapframe.Frame) {
	if d.Console == nil {
		return
	}
	p := d.Table.CPUs[cpuIdx].Proc
	if p == nil || p.AS == nil {
		d.Console.Cprintf("fault: trapno=%d eip=%#x (no current address space to decode)\n", tf.Trapno, tf.Eip)
		return
	}
	page, ok := p.AS.Uva2ka(uintptr(tf.Eip))
	if !ok {
		d.Console.Cprintf("fault: trapno=%d eip=%#x (unmapped)\n", tf.Trapno, tf.Eip)
		return
	}
	off := uintptr(tf.Eip) % uintptr(len(page))
	inst, err := x86asm.Decode(page[off:], 32)
	if err != nil {
		d.Console.Cprintf("fault: trapno=%d eip=%#x (could not decode: %v)\n", tf.Trapno, tf.Eip, err)
		return
	}
	d.Console.Cprintf("fault: trapno=%d eip=%#x instruction=%q, pid %d killed\n", tf.Trapno, tf.Eip, inst.String(), p.Pid)
}
