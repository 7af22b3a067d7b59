package trap

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"xv6core/apic"
	"xv6core/config"
	"xv6core/cpu"
	"xv6core/defs"
	"xv6core/extern"
	"xv6core/mem"
	"xv6core/proc"
	"xv6core/trapframe"
	"xv6core/vm"
)

const testPhystop = 256 * config.PGSIZE

func newTestDispatcher(t *testing.T, syscall Syscall) (*Dispatcher, *proc.Table, *apic.Fake) {
	t.Helper()
	arena := make([]byte, testPhystop)
	alloc := mem.NewAllocator(arena, config.PGSIZE)
	bootCPU := &cpu.State{Ops: cpu.NewSim()}
	alloc.Kinit2(0, bootCPU, config.PGSIZE, testPhystop)

	kernelAS, err := vm.SetupKvm(0, bootCPU, alloc, nil)
	if err != nil {
		t.Fatalf("SetupKvm: %v", err)
	}

	fs := extern.NewFakeFS()
	console := &extern.FakeConsole{}
	tbl := proc.NewTable(alloc, kernelAS, nil, fs, console)

	fakeAPIC := apic.NewFake()
	fakeAPIC.Register(0, 0)
	d := NewDispatcher(tbl, apic.PerCPU{Fake: fakeAPIC, CPUIndex: 0}, syscall, console, nil, nil, nil)
	return d, tbl, fakeAPIC
}

// newRunningProcess builds a process slot sitting "as if" dispatched onto
// cpu 0, for tests whose trap path never re-enters the scheduler (no
// Killed/Yield outcome), so no backing goroutine is needed.
func newRunningProcess(t *testing.T, tbl *proc.Table) *proc.Process {
	t.Helper()
	p, err := tbl.Allocproc(0)
	if err != nil {
		t.Fatalf("Allocproc: %v", err)
	}
	as, err := vm.SetupKvm(0, tbl.CPUs[0].State, tbl.Alloc, nil)
	if err != nil {
		t.Fatalf("SetupKvm: %v", err)
	}
	p.AS = as
	p.Sz = config.PGSIZE
	p.Name = "test"
	tbl.CPUs[0].Proc = p
	p.State = proc.Running
	return p
}

// runScheduler starts cpu 0's scheduler loop in the background, mirroring
// the proc package's own test harness (duplicated here since it is
// unexported there): any test whose trap path re-enters the scheduler
// (an Exit or Yield outcome) needs a live scheduler goroutine on the
// other end of the toProc/toSched handoff, not a bare process struct.
func runScheduler(t *testing.T, tbl *proc.Table, cpuIdx int) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tbl.Scheduler(ctx, cpuIdx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop after cancel")
		}
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, what string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type stubSyscall struct {
	called bool
}

func (s *stubSyscall) Syscall(tf *trapframe.Frame) {
	s.called = true
}

func TestTrapTimerTicksAndAcks(t *testing.T) {
	d, tbl, fakeAPIC := newTestDispatcher(t, nil)

	tf := &trapframe.Frame{Trapno: config.T_IRQ0 + config.IRQ_TIMER}
	d.Trap(0, tf)

	if tbl.Ticks != 1 {
		t.Fatalf("expected Ticks=1, got %d", tbl.Ticks)
	}
	if fakeAPIC.Eois() != 1 {
		t.Fatalf("expected 1 EOI, got %d", fakeAPIC.Eois())
	}
}

func TestTrapTimerOnlyAdvancesOncePerTrap(t *testing.T) {
	d, tbl, _ := newTestDispatcher(t, nil)
	tf := &trapframe.Frame{Trapno: config.T_IRQ0 + config.IRQ_TIMER}
	d.Trap(0, tf)
	d.Trap(0, tf)
	if tbl.Ticks != 2 {
		t.Fatalf("expected Ticks=2 after two timer traps, got %d", tbl.Ticks)
	}
}

func TestTrapSyscallInvokesHandlerAndWritesFrame(t *testing.T) {
	stub := &stubSyscall{}
	d, tbl, _ := newTestDispatcher(t, stub)
	p := newRunningProcess(t, tbl)
	tbl.CPUs[0].Proc = p

	tf := &trapframe.Frame{Trapno: config.T_SYSCALL}
	d.Trap(0, tf)

	if !stub.called {
		t.Fatal("expected Syscall to be invoked")
	}
	if p.TF != tf {
		t.Fatal("expected process trap frame to be updated to the dispatched frame")
	}
}

func TestTrapSpuriousInterruptJustAcks(t *testing.T) {
	d, _, fakeAPIC := newTestDispatcher(t, nil)
	tf := &trapframe.Frame{Trapno: config.T_IRQ0 + config.IRQ_SPURIOUS}
	d.Trap(0, tf)
	if fakeAPIC.Eois() != 1 {
		t.Fatalf("expected spurious interrupt to still ack, got %d EOIs", fakeAPIC.Eois())
	}
}

func TestTrapUnexpectedKernelModeFaultPanics(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	tf := &trapframe.Frame{Trapno: 13, Cs: config.SEG_KCODE << 3}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected an unexpected kernel-mode trap to panic")
		}
	}()
	d.Trap(0, tf)
}

// TestTrapSyscallWithKilledProcessExits drives the dispatch from inside a
// forked child's own kernel thread (not the init process — Exit refuses
// to reap InitProc), with a live scheduler on the other end of the
// toProc/toSched handoff, exactly the arrangement a real trap happens in.
func TestTrapSyscallWithKilledProcessExits(t *testing.T) {
	stub := &stubSyscall{}
	d, tbl, _ := newTestDispatcher(t, stub)

	var done sync.WaitGroup
	done.Add(1)
	var sawState proc.State

	_, err := tbl.Userinit(0, []byte{0x90}, func(tb *proc.Table, cpuIdx int, p *proc.Process) {
		_, ferr := tb.Fork(cpuIdx, p, func(tb *proc.Table, cpuIdx int, child *proc.Process) {
			child.Killed = true
			tf := &trapframe.Frame{Trapno: config.T_SYSCALL}
			d.Trap(cpuIdx, tf)
			sawState = child.State
			done.Done()
		})
		if ferr != nil {
			t.Errorf("Fork: %v", ferr)
			done.Done()
		}
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	waitOrTimeout(t, &done, "killed child to exit via trap dispatch")
	if stub.called {
		t.Fatal("expected a killed process's syscall to be skipped in favor of Exit")
	}
	if sawState != proc.Zombie {
		t.Fatalf("expected killed child to become ZOMBIE, got %s", sawState)
	}
}

// TestTrapUnexpectedUserModeFaultKillsProcess exercises the default-case
// fault path the same way: a forked child traps on an unknown vector from
// user mode and must end up ZOMBIE instead of panicking the kernel.
func TestTrapUnexpectedUserModeFaultKillsProcess(t *testing.T) {
	d, tbl, _ := newTestDispatcher(t, nil)

	var done sync.WaitGroup
	done.Add(1)
	var sawState proc.State

	_, err := tbl.Userinit(0, []byte{0x90}, func(tb *proc.Table, cpuIdx int, p *proc.Process) {
		_, ferr := tb.Fork(cpuIdx, p, func(tb *proc.Table, cpuIdx int, child *proc.Process) {
			tf := &trapframe.Frame{Trapno: 13, Cs: config.SEG_UCODE<<3 | config.DPL_USER, Eip: 0}
			d.Trap(cpuIdx, tf)
			sawState = child.State
			done.Done()
		})
		if ferr != nil {
			t.Errorf("Fork: %v", ferr)
			done.Done()
		}
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	waitOrTimeout(t, &done, "faulting child to be killed")
	if sawState != proc.Zombie {
		t.Fatalf("expected faulting user process to be killed, got %s", sawState)
	}
}

func TestHandleDeviceProf(t *testing.T) {
	d, tbl, _ := newTestDispatcher(t, nil)
	p := newRunningProcess(t, tbl)
	p.RunTicks = 5
	tbl.CPUs[0].Proc = p

	var buf bytes.Buffer
	if err := d.HandleDevice(defs.D_PROF, &buf); err != nil {
		t.Fatalf("HandleDevice(D_PROF): %v", err)
	}
	got, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(got.Sample) == 0 {
		t.Fatal("expected at least one sample in the dumped profile")
	}
}

func TestHandleDeviceUnsupported(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	var buf bytes.Buffer
	if err := d.HandleDevice(defs.D_CONSOLE, &buf); err == nil {
		t.Fatal("expected an unsupported device number to return an error")
	}
}
