package proc

import (
	"context"
	"sync"
	"testing"
	"time"

	"xv6core/config"
	"xv6core/cpu"
	"xv6core/extern"
	"xv6core/mem"
	"xv6core/vm"
)

const testPhystop = 512 * config.PGSIZE

func newTestTable(t *testing.T) (*Table, *mem.Allocator) {
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
	tbl := NewTable(alloc, kernelAS, nil, fs, console)
	return tbl, alloc
}

// runScheduler starts CPU 0's scheduler loop in the background and
// returns a cancel func that stops it and blocks until it has exited.
func runScheduler(t *testing.T, tbl *Table, cpuIdx int) func() {
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

func TestUserinitReachesRunning(t *testing.T) {
	tbl, _ := newTestTable(t)
	var sawRunning sync.WaitGroup
	sawRunning.Add(1)

	_, err := tbl.Userinit(0, []byte{0x90}, func(tb *Table, cpuIdx int, p *Process) {
		sawRunning.Done()
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	waitOrTimeout(t, &sawRunning, "initcode body to run")
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

func TestForkReturnsTwice(t *testing.T) {
	tbl, _ := newTestTable(t)

	var childRan sync.WaitGroup
	childRan.Add(1)
	var childPid int

	init, err := tbl.Userinit(0, []byte{0x90}, func(tb *Table, cpuIdx int, p *Process) {
		pid, err := tb.Fork(cpuIdx, p, func(tb *Table, cpuIdx int, child *Process) {
			if child.TF.Eax != 0 {
				t.Errorf("expected child eax=0, got %d", child.TF.Eax)
			}
			childRan.Done()
		})
		if err != nil {
			t.Errorf("Fork: %v", err)
			return
		}
		if pid <= 0 {
			t.Errorf("expected positive child pid, got %d", pid)
		}
		childPid = pid
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}
	_ = init

	stop := runScheduler(t, tbl, 0)
	defer stop()

	waitOrTimeout(t, &childRan, "forked child to run")
	if childPid == 0 {
		t.Fatal("expected a child pid to have been recorded")
	}
}

func TestSleepWakeup(t *testing.T) {
	tbl, _ := newTestTable(t)

	var woke sync.WaitGroup
	woke.Add(1)

	chanTok := new(int)
	var waiter *Process

	waiter, err := tbl.Userinit(0, []byte{0x90}, func(tb *Table, cpuIdx int, p *Process) {
		waiter = p
		tb.Lock.Acquire(cpuIdx, tb.CPUs[cpuIdx].State)
		tb.Sleep(cpuIdx, p, chanTok, tb.Lock)
		tb.Lock.Release(cpuIdx, tb.CPUs[cpuIdx].State)
		woke.Done()
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	// Give the process a chance to reach SLEEPING before waking it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tbl.Lock.Acquire(0, tbl.CPUs[0].State)
		state := waiter.State
		tbl.Lock.Release(0, tbl.CPUs[0].State)
		if state == Sleeping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never reached SLEEPING")
		}
		time.Sleep(time.Millisecond)
	}

	tbl.Wakeup(0, chanTok)
	waitOrTimeout(t, &woke, "sleeper to wake")
}

func TestKillWhileSleeping(t *testing.T) {
	tbl, _ := newTestTable(t)

	var exited sync.WaitGroup
	exited.Add(1)
	chanTok := new(int)
	var sleeper *Process

	sleeper, err := tbl.Userinit(0, []byte{0x90}, func(tb *Table, cpuIdx int, p *Process) {
		sleeper = p
		tb.Lock.Acquire(cpuIdx, tb.CPUs[cpuIdx].State)
		tb.Sleep(cpuIdx, p, chanTok, tb.Lock)
		tb.Lock.Release(cpuIdx, tb.CPUs[cpuIdx].State)
		if p.Killed {
			exited.Done()
		}
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		tbl.Lock.Acquire(0, tbl.CPUs[0].State)
		state := sleeper.State
		tbl.Lock.Release(0, tbl.CPUs[0].State)
		if state == Sleeping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never reached SLEEPING")
		}
		time.Sleep(time.Millisecond)
	}

	if !tbl.Kill(0, sleeper.Pid) {
		t.Fatal("expected Kill to find the sleeping process")
	}
	waitOrTimeout(t, &exited, "killed sleeper to observe the flag and exit")
}

func TestWaitReapsZombieChild(t *testing.T) {
	tbl, _ := newTestTable(t)

	var parentDone sync.WaitGroup
	parentDone.Add(1)
	var reapedPid int
	var waitErr error

	_, err := tbl.Userinit(0, []byte{0x90}, func(tb *Table, cpuIdx int, p *Process) {
		childPid, err := tb.Fork(cpuIdx, p, func(tb *Table, cpuIdx int, child *Process) {
			// child exits immediately (Start's auto-exit on body return)
		})
		if err != nil {
			t.Errorf("Fork: %v", err)
			return
		}
		pid, err := tb.Wait(cpuIdx, p)
		reapedPid, waitErr = pid, err
		if pid != childPid {
			t.Errorf("expected to reap child pid %d, got %d", childPid, pid)
		}
		parentDone.Done()
	})
	if err != nil {
		t.Fatalf("Userinit: %v", err)
	}

	stop := runScheduler(t, tbl, 0)
	defer stop()

	waitOrTimeout(t, &parentDone, "parent to reap its zombie child")
	if waitErr != nil {
		t.Fatalf("Wait: %v", waitErr)
	}
	if reapedPid == 0 {
		t.Fatal("expected a reaped pid")
	}
}
