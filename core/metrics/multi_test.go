package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	cycles      int
	allocations int
	err         error
}

func (r *recordSink) RecordCycle(CycleRecord) error {
	r.cycles++
	return r.err
}

func (r *recordSink) RecordAllocation(CycleRecord) error {
	r.allocations++
	return nil
}

type cycleOnly struct{ n int }

func (c *cycleOnly) RecordCycle(CycleRecord) error {
	c.n++
	return nil
}

// TestMultiSink ensures records are forwarded to all sinks.
func TestMultiSink(t *testing.T) {
	a := &recordSink{}
	b := &cycleOnly{}
	m := NewMultiSink(a, b)
	if err := Record(m, CycleRecord{Outcome: OutcomePublished}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.cycles != 1 || a.allocations != 1 || b.n != 1 {
		t.Fatalf("unexpected counts a=%+v b=%+v", a, b)
	}
	if err := Record(m, CycleRecord{Outcome: OutcomeSkippedNoBudget}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.allocations != 1 {
		t.Fatalf("allocation recorded for an unsolved cycle")
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordSink{err: boom}
	b := &cycleOnly{}
	err := NewMultiSink(a, b).RecordCycle(CycleRecord{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom got %v", err)
	}
	if b.n != 1 {
		t.Fatalf("second sink skipped after error")
	}
}

func TestOutcomeSolved(t *testing.T) {
	for _, o := range Outcomes() {
		want := o == OutcomePublished || o == OutcomePublishFailed
		if o.Solved() != want {
			t.Fatalf("%s: solved=%v", o, o.Solved())
		}
	}
}
