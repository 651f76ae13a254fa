package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/model"
)

func solvedRecord(group string, ids ...string) coremetrics.CycleRecord {
	ref := time.Date(2025, 3, 23, 6, 0, 0, 0, time.UTC)
	rec := coremetrics.CycleRecord{
		CycleID:        "c1",
		Group:          group,
		Trigger:        "tick",
		Algorithm:      "lp",
		Outcome:        coremetrics.OutcomePublished,
		Sessions:       len(ids) + 1,
		ActiveSessions: len(ids),
		Budget:         model.BudgetCurve{Start: ref, Step: time.Hour, Values: []float64{11000, 9000}},
		Allocation:     model.Allocation{Group: group, Reference: ref, Step: time.Hour},
		Unmet:          map[string]float64{},
		Time:           ref,
	}
	for i, id := range ids {
		rec.Allocation.Entries = append(rec.Allocation.Entries, model.AllocationEntry{
			Session: model.Session{ID: id, StationID: "st"},
			Power:   []float64{float64(1000 * (i + 1)), 0},
		})
		rec.Unmet[id] = float64(100 * i)
	}
	return rec
}

func TestPromSinkRecordsCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	rec := solvedRecord("g1", "1", "2")
	require.NoError(t, coremetrics.Record(sink, rec))

	assert.Equal(t, float64(rec.Time.Unix()), testutil.ToFloat64(sink.lastCycle.WithLabelValues("g1", "published")))
	assert.Equal(t, 11000.0, testutil.ToFloat64(sink.budget.WithLabelValues("g1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.sessions.WithLabelValues("g1", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sessions.WithLabelValues("g1", "future")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(sink.allocated.WithLabelValues("g1", "2")))
	assert.Equal(t, 100.0, testutil.ToFloat64(sink.unmet.WithLabelValues("g1", "2")))

	// Session 2 left: its series must disappear.
	require.NoError(t, coremetrics.Record(sink, solvedRecord("g1", "1")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.allocated))
}

func TestPromSinkSkippedCycleKeepsAllocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, coremetrics.Record(sink, solvedRecord("g1", "1")))

	skipped := coremetrics.CycleRecord{Group: "g1", Outcome: coremetrics.OutcomeSkippedNoBudget, Time: time.Now()}
	require.NoError(t, coremetrics.Record(sink, skipped))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.allocated))
}

func TestPromSinkSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	assert.Same(t, a.allocated, b.allocated)
}
