package profiling

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
)

func TestDumpRoundTrips(t *testing.T) {
	samples := []Sample{
		{Pid: 1, Name: "init", RunTicks: 7},
		{Pid: 2, Name: "sh", RunTicks: 3},
	}

	var buf bytes.Buffer
	if err := Dump(&buf, samples); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	got, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(got.Sample) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got.Sample))
	}
	var total int64
	for _, s := range got.Sample {
		if len(s.Value) != 1 {
			t.Fatalf("expected one value per sample, got %d", len(s.Value))
		}
		total += s.Value[0]
	}
	if total != 10 {
		t.Fatalf("expected total dispatches 10, got %d", total)
	}
}

func TestBuildEmpty(t *testing.T) {
	p := Build(nil)
	if len(p.Sample) != 0 {
		t.Fatalf("expected no samples, got %d", len(p.Sample))
	}
}
