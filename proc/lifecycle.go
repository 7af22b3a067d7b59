package proc

import (
	"fmt"
	"unsafe"

	"xv6core/defs"
	"xv6core/spinlock"
)

// Sleep atomically releases lk and puts the calling process to sleep on
// chan, the classical "hand-off" that closes the lost-wakeup window: if
// lk is not the ptable lock itself, Sleep acquires the ptable lock before
// releasing lk, so any concurrent Wakeup (which must hold the ptable
// lock) can never run between "decide to sleep" and "marked SLEEPING."
func (t *Table) Sleep(cpuIdx int, p *Process, chanTok interface{}, lk *spinlock.Lock[int]) {
	c := t.CPUs[cpuIdx]
	if lk != t.Lock {
		t.Lock.Acquire(cpuIdx, c.State)
		lk.Release(cpuIdx, c.State)
	}

	p.Chan = chanTok
	p.State = Sleeping
	t.sched(cpuIdx, p)
	p.Chan = nil

	if lk != t.Lock {
		t.Lock.Release(cpuIdx, c.State)
		lk.Acquire(cpuIdx, c.State)
	}
}

// wakeup1Locked moves every SLEEPING process waiting on chanTok to
// RUNNABLE. The caller must already hold the ptable lock.
func (t *Table) wakeup1Locked(chanTok interface{}) {
	for _, p := range t.Proc {
		if p != nil && p.State == Sleeping && p.Chan == chanTok {
			p.State = Runnable
		}
	}
}

// Wakeup is the lock-wrapping variant of wakeup1Locked.
func (t *Table) Wakeup(cpuIdx int, chanTok interface{}) {
	c := t.CPUs[cpuIdx]
	t.Lock.Acquire(cpuIdx, c.State)
	t.wakeup1Locked(chanTok)
	t.Lock.Release(cpuIdx, c.State)
}

// Fork duplicates the calling process: a private copy of its address
// space, its open files (Filedup'd), its cwd (Idup'd), and its trap
// frame, with the child's eax forced to 0 so its syscall return value is
// 0 while the parent's is the new pid. body is what the child's kernel
// thread subsequently runs.
func (t *Table) Fork(cpuIdx int, curproc *Process, body Body) (int, error) {
	np, err := t.Allocproc(cpuIdx)
	if err != nil {
		return -1, err
	}

	c := t.CPUs[cpuIdx]
	as, err := curproc.AS.Copyuvm(cpuIdx, c.State, t.Kmap, curproc.Sz)
	if err != nil {
		t.freeSlot(cpuIdx, np)
		return -1, err
	}
	np.AS = as
	np.Sz = curproc.Sz

	*np.TF = *curproc.TF
	np.TF.Eax = 0

	for i, f := range curproc.Ofile {
		if f != nil {
			np.Ofile[i] = f.Filedup()
		}
	}
	if curproc.Cwd != nil {
		np.Cwd = curproc.Cwd.Idup()
	}
	np.Name = curproc.Name
	np.Parent = curproc

	t.Lock.Acquire(cpuIdx, c.State)
	np.State = Runnable
	t.Lock.Release(cpuIdx, c.State)

	t.Start(np, body)
	return np.Pid, nil
}

// freeSlot releases a process's kernel stack and removes it from the
// table, used by Fork's error path and by Wait when reaping a ZOMBIE.
func (t *Table) freeSlot(cpuIdx int, p *Process) {
	for i, slot := range t.Proc {
		if slot == p {
			if len(p.KStack) > 0 {
				pa := t.kstackPA(p)
				t.Alloc.Kfree(cpuIdx, t.CPUs[cpuIdx].State, pa)
			}
			t.Proc[i] = nil
			return
		}
	}
}

func (t *Table) kstackPA(p *Process) uintptr {
	return uintptr(uintptr(unsafe.Pointer(&p.KStack[0])) - uintptr(unsafe.Pointer(&t.Alloc.Arena[0])))
}

// Exit tears down the calling process: closes its open files, drops its
// cwd under a filesystem transaction, wakes its parent, reparents any
// children to InitProc (waking InitProc if a reparented child is already
// a ZOMBIE), marks itself ZOMBIE, and never returns — its goroutine ends
// after the handoff to the scheduler. Exiting InitProc is a bug.
func (t *Table) Exit(cpuIdx int, curproc *Process) {
	if curproc == t.InitProc {
		panic("init exiting")
	}

	for i, f := range curproc.Ofile {
		if f != nil {
			f.Fileclose()
			curproc.Ofile[i] = nil
		}
	}

	if t.FS != nil {
		t.FS.BeginOp()
	}
	if curproc.Cwd != nil {
		curproc.Cwd.Iput()
		curproc.Cwd = nil
	}
	if t.FS != nil {
		t.FS.EndOp()
	}

	c := t.CPUs[cpuIdx]
	t.Lock.Acquire(cpuIdx, c.State)

	t.wakeup1Locked(curproc.Parent)

	for _, child := range t.Proc {
		if child != nil && child.Parent == curproc {
			child.Parent = t.InitProc
			if child.State == Zombie {
				t.wakeup1Locked(t.InitProc)
			}
		}
	}

	curproc.State = Zombie
	t.sched(cpuIdx, curproc)
	// sched's ZOMBIE branch returns instead of blocking on toProc again —
	// there is nothing left to resume this goroutine, so it simply ends
	// here rather than leaking, standing in for the original's "exit
	// never returns."
}

// Wait reaps a ZOMBIE child of the calling process, freeing its kernel
// stack and address space and returning its pid. It returns
// defs.ErrNoChild if the caller has no children, or if the caller has
// been killed; otherwise it sleeps on its own address until a child
// exits.
func (t *Table) Wait(cpuIdx int, curproc *Process) (int, error) {
	c := t.CPUs[cpuIdx]
	t.Lock.Acquire(cpuIdx, c.State)
	for {
		haveKids := false
		for _, child := range t.Proc {
			if child == nil || child.Parent != curproc {
				continue
			}
			haveKids = true
			if child.State == Zombie {
				pid := child.Pid
				child.AS.Freevm(cpuIdx, c.State)
				t.freeSlot(cpuIdx, child)
				t.Lock.Release(cpuIdx, c.State)
				return pid, nil
			}
		}
		if !haveKids || curproc.Killed {
			t.Lock.Release(cpuIdx, c.State)
			return -1, defs.ErrNoChild
		}
		t.Sleep(cpuIdx, curproc, curproc, t.Lock)
	}
}

// Kill marks pid killed, nudging it out of SLEEPING into RUNNABLE if
// necessary so it observes the flag at its next trap return. It reports
// whether pid was found.
func (t *Table) Kill(cpuIdx int, pid int) bool {
	c := t.CPUs[cpuIdx]
	t.Lock.Acquire(cpuIdx, c.State)
	defer t.Lock.Release(cpuIdx, c.State)
	for _, p := range t.Proc {
		if p != nil && p.Pid == pid {
			p.Killed = true
			if p.State == Sleeping {
				p.State = Runnable
			}
			return true
		}
	}
	return false
}

// Growproc grows (n>0) or shrinks (n<0) the calling process's address
// space by n bytes and reinstalls its page directory.
func (t *Table) Growproc(cpuIdx int, p *Process, n int) error {
	cs := t.CPUs[cpuIdx].State
	var newsz uintptr
	var err error
	switch {
	case n > 0:
		newsz, err = p.AS.Allocuvm(cpuIdx, cs, p.Sz, p.Sz+uintptr(n))
		if err != nil {
			return err
		}
	case n < 0:
		shrink := uintptr(-n)
		if shrink > p.Sz {
			return fmt.Errorf("growproc: shrink %d exceeds size %d", shrink, p.Sz)
		}
		newsz = p.AS.Deallocuvm(cpuIdx, cs, p.Sz, p.Sz-shrink)
	default:
		newsz = p.Sz
	}
	p.Sz = newsz
	t.Switchuvm(cpuIdx, p)
	return nil
}

// Procdump renders a one-line-per-slot snapshot of the table, matching
// the original's debug dump (pid, state, name).
func (t *Table) Procdump() []string {
	var lines []string
	for _, p := range t.Proc {
		if p == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %s %s", p.Pid, p.State, p.Name))
	}
	return lines
}
