package apic

import "testing"

func TestFakeRegisterAndLapicidFor(t *testing.T) {
	f := NewFake()
	f.Register(0, 7)
	f.Register(1, 9)

	if got := f.LapicidFor(0); got != 7 {
		t.Fatalf("expected apic id 7 for cpu 0, got %d", got)
	}
	if got := f.LapicidFor(1); got != 9 {
		t.Fatalf("expected apic id 9 for cpu 1, got %d", got)
	}
}

func TestFakeEoiCounts(t *testing.T) {
	f := NewFake()
	if f.Eois() != 0 {
		t.Fatalf("expected 0 EOIs initially, got %d", f.Eois())
	}
	f.Lapiceoi()
	f.Lapiceoi()
	if f.Eois() != 2 {
		t.Fatalf("expected 2 EOIs, got %d", f.Eois())
	}
}

func TestFakeIoapicenableRecordsRoute(t *testing.T) {
	f := NewFake()
	f.Ioapicenable(1, 3)
	if f.routes[1] != 3 {
		t.Fatalf("expected irq 1 routed to apic 3, got %d", f.routes[1])
	}
}

func TestPerCPUAdaptsFakeToDriver(t *testing.T) {
	f := NewFake()
	f.Register(2, 42)
	cpu := PerCPU{Fake: f, CPUIndex: 2}

	var d Driver = cpu
	if got := d.Lapicid(); got != 42 {
		t.Fatalf("expected Lapicid()=42, got %d", got)
	}
	d.Lapiceoi()
	if f.Eois() != 1 {
		t.Fatalf("expected PerCPU.Lapiceoi to delegate to the shared Fake, got %d eois", f.Eois())
	}
}
