package model

import (
	"sort"
	"time"
)

// AllocationEntry is the planned power in watts of one active session for
// every step of the horizon.
type AllocationEntry struct {
	Session Session
	Power   []float64
}

// Allocation is the result of one solve. Entries only contain active sessions
// and are ordered by urgency.
type Allocation struct {
	Group     string
	Reference time.Time
	Step      time.Duration
	Entries   []AllocationEntry
}

// NewAllocation returns an allocation with one zero profile per active session.
func NewAllocation(sessions []Session, budget BudgetCurve) Allocation {
	alloc := Allocation{Reference: budget.Start, Step: budget.Step}
	for _, s := range sessions {
		if !s.IsActive() {
			continue
		}
		alloc.Entries = append(alloc.Entries, AllocationEntry{Session: s, Power: make([]float64, len(budget.Values))})
	}
	sort.SliceStable(alloc.Entries, func(i, j int) bool {
		return LessByUrgency(alloc.Entries[i].Session, alloc.Entries[j].Session)
	})
	return alloc
}

// Power returns the profile of the given session, or nil when absent.
func (a Allocation) Power(sessionID string) []float64 {
	for _, e := range a.Entries {
		if e.Session.ID == sessionID {
			return e.Power
		}
	}
	return nil
}

// Energy returns the energy in Wh planned for the session over the horizon.
func (a Allocation) Energy(sessionID string) float64 {
	var sum float64
	for _, p := range a.Power(sessionID) {
		sum += p * a.Step.Hours()
	}
	return sum
}

// StepTotal returns the aggregated power planned at step t.
func (a Allocation) StepTotal(t int) float64 {
	var sum float64
	for _, e := range a.Entries {
		if t < len(e.Power) {
			sum += e.Power[t]
		}
	}
	return sum
}

// Map returns a copy of the profiles keyed by session id.
func (a Allocation) Map() map[string][]float64 {
	out := make(map[string][]float64, len(a.Entries))
	for _, e := range a.Entries {
		out[e.Session.ID] = append([]float64(nil), e.Power...)
	}
	return out
}

// SchedulePeriod is one constant-limit period of a charging schedule,
// StartPeriod being the offset in seconds from the schedule start.
type SchedulePeriod struct {
	StartPeriod int     `json:"startPeriod"`
	Limit       float64 `json:"limit"`
}

// ChargingProfile is the dispatchable form of an allocation entry, shaped
// after the OCPP charging schedule.
type ChargingProfile struct {
	SessionID     string           `json:"session_id"`
	StationID     string           `json:"station_id"`
	ConnectorID   int              `json:"connector_id"`
	Unit          ChargingRateUnit `json:"chargingRateUnit"`
	StartSchedule time.Time        `json:"startSchedule"`
	Duration      int              `json:"duration"`
	Periods       []SchedulePeriod `json:"chargingSchedulePeriod"`
}

// Profiles converts the allocation to charging profiles in the given unit.
// Consecutive steps with the same limit are merged into one period.
func (a Allocation) Profiles(unit ChargingRateUnit) []ChargingProfile {
	stepSec := int(a.Step.Seconds())
	out := make([]ChargingProfile, 0, len(a.Entries))
	for _, e := range a.Entries {
		p := ChargingProfile{
			SessionID:     e.Session.ID,
			StationID:     e.Session.StationID,
			ConnectorID:   e.Session.ConnectorID,
			Unit:          unit,
			StartSchedule: a.Reference,
			Duration:      stepSec * len(e.Power),
		}
		for t, w := range e.Power {
			limit := e.Session.ConvertPower(w, unit)
			if n := len(p.Periods); n > 0 && p.Periods[n-1].Limit == limit {
				continue
			}
			p.Periods = append(p.Periods, SchedulePeriod{StartPeriod: t * stepSec, Limit: limit})
		}
		out = append(out, p)
	}
	return out
}
