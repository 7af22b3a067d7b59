// Package trap implements IDT construction and the top-level trap
// dispatcher: the routing logic that decides, for every kind of kernel
// entry (syscall, timer, device IRQ, fault), what the core does next.
// See spec.md §4.5.
//
// tvinit/idtinit's real job — building 256 gate descriptors and loading
// the IDTR — is genuinely hardware-only, so Dispatcher.Tvinit only fills a
// Go-level table of Gate values and Idtinit is a thin wrapper over
// cpu.Ops.Lidt. The dispatch logic in Trap, by contrast, is
// ordinary Go control flow and is the part spec.md §8's scenarios
// exercise.
package trap

import (
	"fmt"
	"io"

	"xv6core/apic"
	"xv6core/config"
	"xv6core/cpu"
	"xv6core/defs"
	"xv6core/extern"
	"xv6core/proc"
	"xv6core/profiling"
	"xv6core/trapframe"
)

// Syscall is the out-of-scope syscall demultiplexer: trap(tf) for
// T_SYSCALL hands it the trap frame and expects the return value written
// into Frame.Eax.
type Syscall interface {
	Syscall(tf *trapframe.Frame)
}

// Gate is one IDT entry: present, DPL, and whether it is a trap gate
// (leaves IF alone, reachable at DPL 3) or an interrupt gate (clears IF,
// kernel-only).
type Gate struct {
	Present bool
	DPL     int
	IsTrap  bool
}

// Dispatcher owns the IDT and routes every trap to the right core
// operation.
type Dispatcher struct {
	IDT [256]Gate

	Table   *proc.Table
	APIC    apic.Driver
	Syscall Syscall
	Console extern.Console

	kbd     func()
	ide     func()
	com1    func()
}

// NewDispatcher builds a Dispatcher over an already-constructed process
// table. kbd/ide/com1 are the out-of-scope device-interrupt handlers;
// any may be nil, in which case that IRQ arm is a no-op besides the ack.
func NewDispatcher(t *proc.Table, apicDriver apic.Driver, syscall Syscall, console extern.Console, kbd, ide, com1 func()) *Dispatcher {
	return &Dispatcher{Table: t, APIC: apicDriver, Syscall: syscall, Console: console, kbd: kbd, ide: ide, com1: com1}
}

// Tvinit builds the 256-entry IDT: every vector is an interrupt gate at
// DPL 0 except T_SYSCALL, a trap gate at DPL 3 so user mode can reach it
// with `int`.
func (d *Dispatcher) Tvinit() {
	for i := range d.IDT {
		d.IDT[i] = Gate{Present: true, DPL: 0, IsTrap: false}
	}
	d.IDT[config.T_SYSCALL] = Gate{Present: true, DPL: config.DPL_USER, IsTrap: true}
}

// Idtinit loads the IDT register on the calling CPU.
func (d *Dispatcher) Idtinit(ops cpu.Ops, base uintptr, limit uint16) {
	ops.Lidt(base, limit)
}

// HandleDevice services a device read by number, per spec.md §6's device
// table. The only device this module implements directly is D_PROF: every
// other number (console, raw disk, stat) belongs to an out-of-scope driver
// and is reported unsupported rather than silently ignored. This stands in
// for the teacher's keyboard-triggered heap-profile dump — here there is
// no keyboard driver, so a D_PROF read is the closest in-scope equivalent.
func (d *Dispatcher) HandleDevice(dev int, w io.Writer) error {
	if dev != defs.D_PROF {
		return fmt.Errorf("trap: device %d not implemented", dev)
	}
	samples := make([]profiling.Sample, 0, len(d.Table.Proc))
	for _, p := range d.Table.Proc {
		if p == nil {
			continue
		}
		samples = append(samples, profiling.Sample{Pid: p.Pid, Name: p.Name, RunTicks: p.RunTicks})
	}
	return profiling.Dump(w, samples)
}

// Trap dispatches one kernel entry on cpuIdx, given the trap frame the
// hardware and stub pushed. It returns once dispatch (and any resulting
// yield/exit re-check) is complete — on a real kernel this is the point
// trapret reloads the frame and iret's back to user mode.
func (d *Dispatcher) Trap(cpuIdx int, tf *trapframe.Frame) {
	p := d.Table.CPUs[cpuIdx].Proc

	switch tf.Trapno {
	case config.T_SYSCALL:
		if p == nil {
			panic("trap: syscall with no current process")
		}
		if p.Killed {
			d.Table.Exit(cpuIdx, p)
			return
		}
		p.TF = tf
		if d.Syscall != nil {
			d.Syscall.Syscall(tf)
		}
		if p.Killed {
			d.Table.Exit(cpuIdx, p)
			return
		}

	case config.T_IRQ0 + config.IRQ_TIMER:
		if cpuIdx == 0 {
			d.Table.TicksLock.Acquire(cpuIdx, d.Table.CPUs[cpuIdx].State)
			d.Table.Ticks++
			d.Table.TicksLock.Release(cpuIdx, d.Table.CPUs[cpuIdx].State)
			d.Table.Wakeup(cpuIdx, &d.Table.Ticks)
		}
		d.APIC.Lapiceoi()

	case config.T_IRQ0 + config.IRQ_IDE:
		if d.ide != nil {
			d.ide()
		}
		d.APIC.Lapiceoi()

	case config.T_IRQ0 + config.IRQ_KBD:
		if d.kbd != nil {
			d.kbd()
		}
		d.APIC.Lapiceoi()

	case config.T_IRQ0 + config.IRQ_COM1:
		if d.com1 != nil {
			d.com1()
		}
		d.APIC.Lapiceoi()

	case config.T_IRQ0 + config.IRQ_SPURIOUS:
		if d.Console != nil {
			d.Console.Cprintf("spurious interrupt on cpu %d\n", cpuIdx)
		}
		d.APIC.Lapiceoi()

	default:
		if tf.Cs&3 == 0 || p == nil {
			d.diagnoseFault(cpuIdx, tf)
			panic(fmt.Sprintf("unexpected trap %d from cpu %d eip %#x (kernel mode)", tf.Trapno, cpuIdx, tf.Eip))
		}
		d.diagnoseFault(cpuIdx, tf)
		p.Killed = true
	}

	if p != nil && p.Killed {
		d.Table.Exit(cpuIdx, p)
		return
	}
	if p != nil && p.State == proc.Running && tf.Trapno == config.T_IRQ0+config.IRQ_TIMER {
		d.Table.Yield(cpuIdx, p)
	}
	if p != nil && p.Killed {
		d.Table.Exit(cpuIdx, p)
	}
}
