// Package proc implements the process table, the per-CPU scheduler,
// sleep/wakeup, and fork/exit/wait/kill — the concurrency heart of the
// kernel. See spec.md §4.4 and §5.
//
// This module runs as an ordinary Go process rather than on bare metal,
// so there is no real assembly swtch to hand a raw stack back and forth
// between a CPU's scheduler loop and a process's kernel thread. Instead
// each process owns a goroutine, and the scheduler hands control to it
// (and gets control back) over a pair of unbuffered, rendezvous channels:
// a send on one only proceeds once the other side is blocked receiving,
// which is exactly swtch's synchronous handoff semantics, and — because
// channel communication establishes a happens-before edge — the cpu.State
// both sides touch across that boundary needs no separate synchronization.
//
// Grounded on the original proc.c for every operation's exact algorithm,
// and on the teacher's Lock_pmap/Unlock_pmap panic-on-misuse idiom
// (biscuit's src/vm/as.go) for the sched() precondition assertions.
package proc

import (
	"unsafe"

	"xv6core/config"
	"xv6core/cpu"
	"xv6core/defs"
	"xv6core/extern"
	"xv6core/mem"
	"xv6core/spinlock"
	"xv6core/trapframe"
	"xv6core/vm"
)

// State is a process's lifecycle state, per spec.md §3.
type State int

const (
	Unused State = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Embryo:
		return "EMBRYO"
	case Sleeping:
		return "SLEEPING"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// Context is the callee-saved register snapshot swtch would otherwise
// swap in raw assembly. It is carved into the top of a process's kernel
// stack by Allocproc and kept here for procdump-style diagnostics and to
// give Eip a concrete value (ForkretMarker) — this module's actual
// control transfer is the toProc/toSched channel pair below, not a
// literal register restore.
type Context struct {
	Edi, Esi, Ebx, Ebp, Eip uint32
}

// ForkretMarker is the symbolic Eip value carved into a brand new
// process's Context, standing in for the address of forkret: the real
// kernel's first swtch into a new process resumes into forkret because
// that is the return address sitting where Context.Eip would be popped
// from; this module instead runs Table.runForkretOnce the first time a
// process's goroutine is dispatched, achieving the same "run once, on
// first schedule" contract the design note in spec.md §9 asks for.
const ForkretMarker = 0xF0F0F0F0

// Process is one slot of the process table, per spec.md §3.
type Process struct {
	Sz     uintptr
	AS     *vm.AddressSpace
	KStack []byte // the frame Allocproc carved a trap frame and context out of
	TF     *trapframe.Frame
	Ctx    *Context

	State    State
	Pid      int
	Parent   *Process
	Chan     interface{}
	Killed   bool
	RunTicks uint // number of scheduler dispatches, for the profiling package

	Ofile [config.NOFILE]extern.File
	Cwd   extern.Inode
	Name  string

	cpuIdx  int // which CPU slot last dispatched this process; -1 until its first dispatch
	toProc  chan struct{}
	toSched chan struct{}
}

// Body is the code a process's kernel thread runs once scheduled. Because
// the ELF loader and real user-mode execution are out of this module's
// scope (spec.md §1), Body stands in for "whatever the process does,"
// expressed in terms of Table's Yield/Sleep/Exit — exactly the
// granularity the scenarios in spec.md §8 are written at.
type Body func(t *Table, cpuIdx int, p *Process)

// SegDesc is one GDT entry. Real descriptors also carry a base, limit, and
// granularity bit; every segment this kernel ever builds is the flat
// 0-4GiB descriptor seginit uses, so Present/Executable/DPL are the only
// fields switchuvm and seginit need to reconstruct what the hardware would
// read back.
type SegDesc struct {
	Present    bool
	Executable bool
	DPL        int
}

// TaskState is the handful of struct-tss fields the kernel actually
// touches: the ring-0 stack switchuvm primes on every dispatch, and the
// I/O permission bitmap offset set past the segment limit so no user
// process can execute in/out.
type TaskState struct {
	SS0  uint16
	ESP0 uint32
	IOMB uint16
}

// CPU is the per-CPU record of spec.md §3: nested-cli bookkeeping (via
// State), the process currently assigned, and the private GDT/TSS
// switchuvm installs. The local APIC id spec.md §3 also names lives on
// trap.Dispatcher instead (one Dispatcher per CPU, each bound to that
// CPU's apic.Driver) — proc itself never calls an APIC operation, only
// trap's device-interrupt arms do.
type CPU struct {
	ID    int
	State *cpu.State
	Proc  *Process

	GDT [config.NSEGS]SegDesc
	TSS TaskState
}

// Table is the process table plus everything a CPU needs to run it.
type Table struct {
	Proc [config.NPROC]*Process
	Lock *spinlock.Lock[int]

	KernelAS *vm.AddressSpace
	Kmap     []vm.KMapEntry
	Alloc    *mem.Allocator

	FS      extern.FS
	Console extern.Console

	CPUs [config.NCPU]*CPU

	TicksLock *spinlock.Lock[int]
	Ticks     uint

	nextPid     int
	InitProc    *Process
	forkretDone bool
}

// NewTable allocates an empty process table. kernelAS is the address
// space switchkvm installs between processes; alloc backs both process
// kernel stacks and every address space's page-table/user frames.
func NewTable(alloc *mem.Allocator, kernelAS *vm.AddressSpace, kmap []vm.KMapEntry, fs extern.FS, console extern.Console) *Table {
	t := &Table{
		Lock:      spinlock.New[int]("ptable"),
		TicksLock: spinlock.New[int]("tickslock"),
		KernelAS:  kernelAS,
		Kmap:      kmap,
		Alloc:     alloc,
		FS:        fs,
		Console:   console,
	}
	for i := range t.CPUs {
		t.CPUs[i] = &CPU{ID: i, State: &cpu.State{Ops: cpu.NewSim()}, Proc: nil}
	}
	return t
}

// Pinit exists only so boot sequencing can name the ptable-lock-init step;
// NewTable already constructs the lock.
func (t *Table) Pinit() {}

// Seginit builds this CPU's private GDT — flat kernel and user code/data
// segments, plus a TSS slot Switchuvm fills in on every dispatch — and
// loads it. Every simulated CPU calls this once at boot, mirroring
// seginit's per-cpu lgdt. Grounded on the original vm.c's seginit().
func (t *Table) Seginit(cpuIdx int) {
	c := t.CPUs[cpuIdx]
	c.GDT[config.SEG_KCODE] = SegDesc{Present: true, Executable: true, DPL: 0}
	c.GDT[config.SEG_KDATA] = SegDesc{Present: true, Executable: false, DPL: 0}
	c.GDT[config.SEG_UCODE] = SegDesc{Present: true, Executable: true, DPL: config.DPL_USER}
	c.GDT[config.SEG_UDATA] = SegDesc{Present: true, Executable: false, DPL: config.DPL_USER}
	c.State.Ops.Lgdt(uintptr(unsafe.Pointer(&c.GDT)), uint16(unsafe.Sizeof(c.GDT)-1))
}

func (t *Table) carveKStack(pa uintptr) (buf []byte, tf *trapframe.Frame, ctx *Context) {
	buf = t.Alloc.Arena[pa : pa+config.KSTACKSIZE]
	tfOff := len(buf) - int(unsafe.Sizeof(trapframe.Frame{}))
	tf = (*trapframe.Frame)(unsafe.Pointer(&buf[tfOff]))
	*tf = trapframe.Frame{}
	ctxOff := tfOff - int(unsafe.Sizeof(Context{}))
	ctx = (*Context)(unsafe.Pointer(&buf[ctxOff]))
	*ctx = Context{Eip: ForkretMarker}
	return buf, tf, ctx
}

// Allocproc scans for an UNUSED slot, marks it EMBRYO, assigns the next
// pid, and carves a trap frame and context out of a freshly allocated
// kernel stack. It returns defs.ErrNoProc if the table is full, or
// defs.ErrOOM if the kernel-stack frame cannot be allocated (the slot is
// freed again in that case, exactly as the original resets p->state).
func (t *Table) Allocproc(cpuIdx int) (*Process, error) {
	cs := t.CPUs[cpuIdx].State
	t.Lock.Acquire(cpuIdx, cs)
	slot := -1
	for i, p := range t.Proc {
		if p == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		t.Lock.Release(cpuIdx, cs)
		return nil, defs.ErrNoProc
	}
	t.nextPid++
	p := &Process{State: Embryo, Pid: t.nextPid, cpuIdx: -1}
	t.Proc[slot] = p
	t.Lock.Release(cpuIdx, cs)

	pa, err := t.Alloc.Kalloc(cpuIdx, cs)
	if err != nil {
		t.Lock.Acquire(cpuIdx, cs)
		t.Proc[slot] = nil
		t.Lock.Release(cpuIdx, cs)
		return nil, defs.ErrOOM
	}
	p.KStack, p.TF, p.Ctx = t.carveKStack(pa)
	p.toProc = make(chan struct{})
	p.toSched = make(chan struct{})
	return p, nil
}

// Start launches p's kernel-thread goroutine, blocked until the scheduler
// first dispatches it. The first dispatch runs the forkret hook (once,
// process-table-wide, matching forkret's one-shot late init) before body.
// If body returns without the process already being a ZOMBIE, Start exits
// it automatically — there being no user-mode code to fall back into —
// except for InitProc, which is parked as ZOMBIE without calling Exit.
func (t *Table) Start(p *Process, body Body) {
	go func() {
		<-p.toProc
		// Still holding ptable.lock from the scheduler's dispatch —
		// released here exactly once per process, the same way forkret's
		// first action is releasing it before running any real code.
		t.Lock.Release(p.cpuIdx, t.CPUs[p.cpuIdx].State)
		t.runForkretOnce()
		if body != nil {
			body(t, p.cpuIdx, p)
		}
		if p.State == Zombie {
			return
		}
		if p != t.InitProc {
			t.Exit(p.cpuIdx, p)
			return
		}
		// initproc returning would make Exit panic ("init exiting"); the
		// real kernel's initproc never returns from its body (it loops
		// forking/waiting forever), so a test or embedder whose init body
		// does return is simply done: its slot is parked as ZOMBIE without
		// Exit's teardown, and control goes back to the scheduler so the
		// CPU keeps scanning the table.
		t.Lock.Acquire(p.cpuIdx, t.CPUs[p.cpuIdx].State)
		p.State = Zombie
		t.sched(p.cpuIdx, p)
	}()
}

func (t *Table) runForkretOnce() {
	if t.forkretDone {
		return
	}
	t.forkretDone = true
	if t.FS != nil {
		t.FS.Iinit()
		t.FS.Initlog()
	}
}

// Userinit builds the first process: a fresh address space with the
// kernel mapping plus the tiny embedded init image mapped at virtual 0,
// and a trap frame primed to enter user mode at eip 0.
func (t *Table) Userinit(cpuIdx int, initcode []byte, body Body) (*Process, error) {
	p, err := t.Allocproc(cpuIdx)
	if err != nil {
		return nil, err
	}
	cs := t.CPUs[cpuIdx].State
	as, err := vm.SetupKvm(cpuIdx, cs, t.Alloc, t.Kmap)
	if err != nil {
		return nil, err
	}
	if err := as.Inituvm(cpuIdx, cs, initcode); err != nil {
		as.Freevm(cpuIdx, cs)
		return nil, err
	}
	p.AS = as
	p.Sz = config.PGSIZE

	p.TF.Cs = config.SEG_UCODE<<3 | config.DPL_USER
	p.TF.Ds = config.SEG_UDATA<<3 | config.DPL_USER
	p.TF.Es = p.TF.Ds
	p.TF.Ss = p.TF.Ds
	p.TF.Eflags = config.FL_IF
	p.TF.Esp = config.PGSIZE
	p.TF.Eip = 0
	p.Name = "initcode"

	t.Lock.Acquire(cpuIdx, t.CPUs[cpuIdx].State)
	p.State = Runnable
	t.InitProc = p
	t.Lock.Release(cpuIdx, t.CPUs[cpuIdx].State)

	t.Start(p, body)
	return p, nil
}
