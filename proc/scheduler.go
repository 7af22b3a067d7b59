package proc

import (
	"context"
	"fmt"
	"runtime"

	"xv6core/config"
)

// Switchuvm installs p's address space and kernel-stack top as this CPU's
// notion of "where to return to on the next trap": it writes p's kernel
// stack into the CPU's TSS (ss0/esp0), points the GDT's TSS slot at it,
// loads the task register, and only then switches CR3 — matching
// switchuvm's contract, including panicking if p, its kernel stack, or its
// page directory is nil.
func (t *Table) Switchuvm(cpuIdx int, p *Process) {
	if p == nil || p.KStack == nil || p.AS == nil {
		panic("switchuvm: nil process, kstack, or pgdir")
	}
	c := t.CPUs[cpuIdx]
	cs := c.State
	cs.Pushcli()
	c.GDT[config.SEG_TSS] = SegDesc{Present: true, Executable: true, DPL: 0}
	c.TSS = TaskState{
		SS0:  config.SEG_KDATA << 3,
		ESP0: uint32(t.kstackPA(p)) + uint32(len(p.KStack)),
		IOMB: 0xFFFF,
	}
	cs.Ops.Ltr(config.SEG_TSS << 3)
	cs.Ops.Lcr3(p.AS.Pgdir)
	cs.Popcli()
}

// Switchkvm reinstalls the kernel-only address space, the CPU's view
// once a process yields control back to the scheduler.
func (t *Table) Switchkvm(cpuIdx int) {
	t.CPUs[cpuIdx].State.Ops.Lcr3(t.KernelAS.Pgdir)
}

// Scheduler runs this CPU's scheduling loop: enable interrupts, scan the
// table for a RUNNABLE process, dispatch it, and repeat forever. It
// returns only when ctx is cancelled, standing in for the original's
// "never returns" with a way for tests (and the boot simulation's
// errgroup) to shut every CPU down cleanly.
func (t *Table) Scheduler(ctx context.Context, cpuIdx int) error {
	c := t.CPUs[cpuIdx]
	c.State.Ops.Sti()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.Lock.Acquire(cpuIdx, c.State)
		ranAny := false
		for _, p := range t.Proc {
			if p == nil || p.State != Runnable {
				continue
			}
			p.cpuIdx = cpuIdx
			c.Proc = p
			t.Switchuvm(cpuIdx, p)
			p.State = Running
			p.RunTicks++
			ranAny = true

			p.toProc <- struct{}{}
			<-p.toSched

			t.Switchkvm(cpuIdx)
			c.Proc = nil
		}
		t.Lock.Release(cpuIdx, c.State)

		if !ranAny {
			runtime.Gosched()
		}
	}
}

// sched is the only place an ordinary process thread re-enters the
// scheduler: it asserts exactly the preconditions spec.md §4.4 names
// (ptable lock held by this cpu, exactly one lock held, process not
// RUNNING, interrupts disabled), then hands control back to the
// scheduler loop and — unless the process is exiting — blocks until the
// scheduler dispatches it again.
func (t *Table) sched(cpuIdx int, p *Process) {
	c := t.CPUs[cpuIdx]
	if !t.Lock.Holding(cpuIdx) {
		panic("sched ptable.lock")
	}
	if c.State.Ncli != 1 {
		panic(fmt.Sprintf("sched locks: ncli=%d", c.State.Ncli))
	}
	if p.State == Running {
		panic("sched running")
	}
	if !c.State.InterruptsDisabled() {
		panic("sched interruptible")
	}

	intena := c.State.Intena
	p.toSched <- struct{}{}
	if p.State != Zombie {
		<-p.toProc
	}
	c.State.Intena = intena
}

// Yield gives up the CPU for one scheduling round.
func (t *Table) Yield(cpuIdx int, p *Process) {
	c := t.CPUs[cpuIdx]
	t.Lock.Acquire(cpuIdx, c.State)
	p.State = Runnable
	t.sched(cpuIdx, p)
	t.Lock.Release(cpuIdx, c.State)
}
