// Package profiling turns a process table's per-pid scheduler dispatch
// counters into a pprof profile, reachable from the trap dispatcher's
// defs.D_PROF device path instead of a real keyboard-triggered dump (the
// keyboard driver itself is out of spec.md's scope).
package profiling

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// Sample is one process table slot's worth of scheduling data, decoupled
// from proc.Process so this package doesn't need to import proc (and so
// tests here can build fixtures without a live Table).
type Sample struct {
	Pid      int
	Name     string
	RunTicks uint
}

// Build assembles a samples profile, one sample per process, with a
// single "sched-dispatches" value type — the direct analogue of a CPU
// profile's "samples/count" type, except the unit here is scheduler
// dispatches rather than timer ticks.
func Build(samples []Sample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "sched", Unit: "dispatches"},
		},
		PeriodType: &profile.ValueType{Type: "sched", Unit: "dispatches"},
		Period:     1,
	}

	funcs := make(map[string]*profile.Function, len(samples))
	for i, s := range samples {
		name := fmt.Sprintf("pid%d(%s)", s.Pid, s.Name)
		fn := &profile.Function{ID: uint64(i + 1), Name: name}
		funcs[name] = fn
		p.Function = append(p.Function, fn)

		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn, Line: 0}},
		}
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(s.RunTicks)},
			Label:    map[string][]string{"name": {s.Name}},
		})
	}
	return p
}

// Dump writes a gzip-compressed profile built from samples to w, the
// handler a D_PROF trap would invoke.
func Dump(w io.Writer, samples []Sample) error {
	return Build(samples).Write(w)
}
