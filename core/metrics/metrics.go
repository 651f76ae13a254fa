package metrics

import (
	"time"

	"github.com/kilianp07/scm/core/model"
)

// Outcome classifies how a recompute cycle ended.
type Outcome string

const (
	OutcomePublished         Outcome = "published"
	OutcomeSkippedNoBudget   Outcome = "skipped_no_budget"
	OutcomeSkippedNoSessions Outcome = "skipped_no_sessions"
	OutcomeAbortedBudget     Outcome = "aborted_budget"
	OutcomeAbortedSessions   Outcome = "aborted_sessions"
	OutcomeAbortedMalformed  Outcome = "aborted_malformed"
	OutcomeInfeasible        Outcome = "infeasible"
	OutcomePublishFailed     Outcome = "publish_failed"
	OutcomeAbortedPanic      Outcome = "aborted_panic"
)

// Outcomes lists every outcome in a stable order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomePublished, OutcomeSkippedNoBudget, OutcomeSkippedNoSessions,
		OutcomeAbortedBudget, OutcomeAbortedSessions, OutcomeAbortedMalformed,
		OutcomeInfeasible, OutcomePublishFailed, OutcomeAbortedPanic,
	}
}

// Solved reports whether the cycle reached the algorithm and produced an
// allocation, whether or not it could be published.
func (o Outcome) Solved() bool {
	return o == OutcomePublished || o == OutcomePublishFailed
}

// CycleRecord describes one recompute cycle for one site group.
type CycleRecord struct {
	CycleID        string
	Group          string
	Trigger        string
	TriggerSource  string
	Algorithm      string
	Outcome        Outcome
	Err            string
	Reference      time.Time
	Duration       time.Duration
	Sessions       int
	ActiveSessions int
	Budget         model.BudgetCurve
	Allocation     model.Allocation
	Unmet          map[string]float64
	Time           time.Time
}

// MetricsSink records cycle outcomes for observability purposes.
type MetricsSink interface {
	RecordCycle(rec CycleRecord) error
}

// AllocationRecorder is implemented by sinks exporting per-session power.
// It is only called for solved cycles.
type AllocationRecorder interface {
	RecordAllocation(rec CycleRecord) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleRecord) error      { return nil }
func (NopSink) RecordAllocation(CycleRecord) error { return nil }
