// Package apic names the local-APIC surface the trap dispatcher and
// per-CPU discovery depend on but do not implement: end-of-interrupt and
// "which CPU am I" queries. See spec.md §1's `lapiceoi`/`lapicid`
// collaborators.
package apic

// Driver is the local-APIC interface every CPU's trap path uses.
type Driver interface {
	// Lapiceoi acknowledges the current interrupt on the calling CPU.
	Lapiceoi()
	// Lapicid returns the calling CPU's local APIC id.
	Lapicid() int
	// Ioapicenable routes IRQ irq to the given APIC id.
	Ioapicenable(irq int, apicid int)
}

// Fake is a deterministic software APIC for tests and the boot simulation:
// each simulated CPU goroutine registers itself once with an explicit id
// (there being no real APIC register to read it from), and Lapiceoi just
// counts acknowledgements.
type Fake struct {
	ids   map[int]int // goroutine-local slot -> apic id, keyed by caller-supplied cpu index
	eois  int
	routes map[int]int
}

func NewFake() *Fake {
	return &Fake{ids: make(map[int]int), routes: make(map[int]int)}
}

// Register assigns apicid to cpuIndex, the simulation-only analogue of a
// real CPU reading its own APIC id register at boot.
func (f *Fake) Register(cpuIndex, apicid int) { f.ids[cpuIndex] = apicid }

func (f *Fake) Lapiceoi() { f.eois++ }

// Eois reports how many end-of-interrupt acknowledgements have been sent,
// for tests asserting the trap dispatcher's device arms ack every time.
func (f *Fake) Eois() int { return f.eois }

// LapicidFor returns the apic id registered for cpuIndex; the real Driver
// method Lapicid() takes no argument because on real hardware it reads the
// current CPU's own register, a notion this software Fake represents by
// closing over the current cpu index via PerCPU, below.
func (f *Fake) LapicidFor(cpuIndex int) int { return f.ids[cpuIndex] }

func (f *Fake) Ioapicenable(irq int, apicid int) { f.routes[irq] = apicid }

// PerCPU adapts a Fake plus a fixed cpu index into a Driver, so each
// simulated CPU goroutine gets its own Lapicid() view.
type PerCPU struct {
	Fake     *Fake
	CPUIndex int
}

func (p PerCPU) Lapiceoi()                       { p.Fake.Lapiceoi() }
func (p PerCPU) Lapicid() int                    { return p.Fake.LapicidFor(p.CPUIndex) }
func (p PerCPU) Ioapicenable(irq int, apicid int) { p.Fake.Ioapicenable(irq, apicid) }

var _ Driver = PerCPU{}
