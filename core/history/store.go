// Package history persists one record per recompute cycle so dispatch
// decisions can be audited after the fact.
package history

import (
	"context"
	"time"

	"github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/model"
)

// Record captures one recompute cycle and the profiles it produced.
type Record struct {
	Timestamp      time.Time               `json:"timestamp"`
	CycleID        string                  `json:"cycle_id"`
	Group          string                  `json:"group"`
	Trigger        string                  `json:"trigger"`
	TriggerSource  string                  `json:"trigger_source,omitempty"`
	Algorithm      string                  `json:"algorithm"`
	Outcome        string                  `json:"outcome"`
	Error          string                  `json:"error,omitempty"`
	DurationMS     float64                 `json:"duration_ms"`
	Sessions       int                     `json:"sessions"`
	ActiveSessions int                     `json:"active_sessions"`
	Budget         []float64               `json:"budget,omitempty"`
	Profiles       []model.ChargingProfile `json:"profiles,omitempty"`
	Unmet          map[string]float64      `json:"unmet_wh,omitempty"`
}

// FromCycle converts a cycle record. Profiles are expressed in unit.
func FromCycle(rec metrics.CycleRecord, unit model.ChargingRateUnit) Record {
	r := Record{
		Timestamp:      rec.Time,
		CycleID:        rec.CycleID,
		Group:          rec.Group,
		Trigger:        rec.Trigger,
		TriggerSource:  rec.TriggerSource,
		Algorithm:      rec.Algorithm,
		Outcome:        string(rec.Outcome),
		Error:          rec.Err,
		DurationMS:     float64(rec.Duration.Microseconds()) / 1000,
		Sessions:       rec.Sessions,
		ActiveSessions: rec.ActiveSessions,
		Budget:         rec.Budget.Values,
		Unmet:          rec.Unmet,
	}
	if rec.Outcome.Solved() {
		r.Profiles = rec.Allocation.Profiles(unit)
	}
	return r
}

// HasSession reports whether the record carries a profile for the session.
func (r Record) HasSession(id string) bool {
	for _, p := range r.Profiles {
		if p.SessionID == id {
			return true
		}
	}
	_, ok := r.Unmet[id]
	return ok
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	Group     string
	Outcome   string
	SessionID string
	Limit     int
}

// Match reports whether r passes every filter but Limit.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Group != "" && r.Group != q.Group {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.SessionID != "" && !r.HasSession(q.SessionID) {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[:q.Limit]
	}
	return res
}

// Store persists Records and supports querying. Query returns records in
// timestamp order.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
