//go:build 386

package cpu

import "sync/atomic"

// Hardware is the real privileged-instruction bank for a 32-bit x86 CPU.
// Its methods are declared here and implemented in hardware_386.s, the same
// split the teacher's forked runtime uses for its Cli/Outb/Lcr3 primitives
// (runtime.Cli, runtime.Outb, ...): a Go-callable leaf function wrapping a
// single privileged instruction, with no Go-level body to keep the
// compiler from reordering around it.
type Hardware struct{}

//go:noescape
func hwCli()

//go:noescape
func hwSti()

//go:noescape
func hwEflags() uint32

//go:noescape
func hwLgdt(base uintptr, limit uint16)

//go:noescape
func hwLidt(base uintptr, limit uint16)

//go:noescape
func hwLtr(selector uint16)

//go:noescape
func hwLcr3(pa uintptr)

func (Hardware) Cli()                                { hwCli() }
func (Hardware) Sti()                                { hwSti() }
func (Hardware) Eflags() uint32                      { return hwEflags() }
func (Hardware) Lgdt(base uintptr, limit uint16)     { hwLgdt(base, limit) }
func (Hardware) Lidt(base uintptr, limit uint16)     { hwLidt(base, limit) }
func (Hardware) Ltr(selector uint16)                 { hwLtr(selector) }
func (Hardware) Lcr3(pa uintptr)                     { hwLcr3(pa) }

// Xchg on real hardware is the lock-prefixed XCHG instruction; it is
// equally correct (and avoids a second asm stub per architecture) to route
// it through the Go runtime's own atomic primitive, which compiles to the
// same bus-locked exchange.
func (Hardware) Xchg(addr *uint32, newval uint32) uint32 {
	return atomic.SwapUint32(addr, newval)
}

var _ Ops = Hardware{}
