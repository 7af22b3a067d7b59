// Command xv6core boots a simulated multiprocessor: it builds the
// physical frame allocator, the kernel address space, and the process
// table, starts one goroutine per simulated CPU running the scheduler,
// and forks the first user process. There is no real hardware underneath
// any of this (see the cpu package) — it exists to give the core packages
// a runnable top level the way a real kernel's main.go does, not to boot
// anything.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"xv6core/apic"
	"xv6core/config"
	"xv6core/cpu"
	"xv6core/extern"
	"xv6core/klog"
	"xv6core/mem"
	"xv6core/proc"
	"xv6core/trap"
	"xv6core/vm"
)

//go:embed rootfs.txtar
var rootfsArchive []byte

func main() {
	ncpu := flag.Int("ncpu", 2, "number of simulated CPUs")
	physMB := flag.Int("physmem", 32, "simulated physical memory, in MiB")
	flag.Parse()

	if *ncpu < 1 || *ncpu > config.NCPU {
		log.Fatalf("xv6core: -ncpu must be between 1 and %d", config.NCPU)
	}

	if err := run(*ncpu, *physMB); err != nil {
		log.Fatalf("xv6core: %v", err)
	}
}

func run(ncpu, physMB int) error {
	phystop := uintptr(physMB) << 20
	arena := make([]byte, phystop)
	alloc := mem.NewAllocator(arena, config.PGSIZE)
	// The bootstrap CPU (cpu 0) is the only one running while kinit1/kinit2
	// seed the free-list and the kernel address space is built, exactly as
	// the original does before the other CPUs are started.
	bootCPU := &cpu.State{Ops: cpu.NewSim()}
	alloc.Kinit1(0, bootCPU, config.PGSIZE, uintptr(4)<<20)
	alloc.Kinit2(0, bootCPU, uintptr(4)<<20, phystop)

	kmap := []vm.KMapEntry{
		{VirtStart: config.KERNBASE, PhysStart: 0, PhysEnd: config.EXTMEM, Perm: config.PTE_W},
		{VirtStart: config.KERNLINK, PhysStart: config.EXTMEM, PhysEnd: phystop, Perm: config.PTE_W},
	}
	kernelAS, err := vm.SetupKvm(0, bootCPU, alloc, kmap)
	if err != nil {
		return fmt.Errorf("setupkvm: %w", err)
	}

	fs := extern.LoadFakeFS(rootfsArchive)
	console := &logConsole{}
	tbl := proc.NewTable(alloc, kernelAS, kmap, fs, console)
	tbl.Pinit()

	fakeAPIC := apic.NewFake()
	for i := 0; i < ncpu; i++ {
		fakeAPIC.Register(i, i)
	}

	// Every simulated CPU builds its own IDT, the way tvinit/idtinit runs
	// once per real CPU at boot. Nothing feeds these dispatchers a trap yet
	// — a syscall demultiplexer and ELF-loaded user code are out of scope —
	// but the wiring is in place for an embedder to plug one in.
	dispatchers := make([]*trap.Dispatcher, ncpu)
	for i := range dispatchers {
		tbl.Seginit(i)
		d := trap.NewDispatcher(tbl, apic.PerCPU{Fake: fakeAPIC, CPUIndex: i}, nil, console, nil, nil, nil)
		d.Tvinit()
		dispatchers[i] = d
	}

	klog.Default.Infof("booting %d simulated cpus, %d MiB physical memory", ncpu, physMB)

	if _, err := tbl.Userinit(0, []byte{0x90}, func(tb *proc.Table, cpuIdx int, p *proc.Process) {
		klog.Default.Infof("init process (pid %d) running", p.Pid)
	}); err != nil {
		return fmt.Errorf("userinit: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ncpu; i++ {
		cpuIdx := i
		g.Go(func() error {
			return tbl.Scheduler(gctx, cpuIdx)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler group: %w", err)
	}
	return nil
}

// logConsole routes Cprintf/Panic through the standard logger, the
// nearest ordinary-process analogue of the teacher's boot-console writer.
type logConsole struct{}

func (logConsole) Cprintf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func (logConsole) Panic(msg string) {
	log.Panic(msg)
}
