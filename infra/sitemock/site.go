// Package sitemock is a development stand-in for the charging site API. It
// serves power budgets and session lists from memory, records the profiles it
// receives and pushes reservation notifications over a websocket.
package sitemock

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kilianp07/scm/infra/httpport"
)

type group struct {
	budget  map[string]float64
	active  []httpport.SessionDTO
	future  []httpport.SessionDTO
	voltage *float64
}

// Site is the in-memory state behind the mock API. It is safe for concurrent
// use.
type Site struct {
	mu     sync.RWMutex
	groups map[string]*group
	powers []httpport.PowersRequest
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{groups: make(map[string]*group)}
}

func (s *Site) group(name string) *group {
	g, ok := s.groups[name]
	if !ok {
		g = &group{budget: make(map[string]float64)}
		s.groups[name] = g
	}
	return g
}

// SetBudgetPoint sets the budget in W applying from at onwards.
func (s *Site) SetBudgetPoint(name string, at time.Time, watts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group(name).budget[at.UTC().Format(time.RFC3339)] = watts
}

// SetConstantBudget replaces the budget of a group with a single value valid
// at any time.
func (s *Site) SetConstantBudget(name string, watts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(name)
	g.budget = map[string]float64{time.Unix(0, 0).UTC().Format(time.RFC3339): watts}
}

// SetVoltage sets the recommended voltage of a group; 0 clears it.
func (s *Site) SetVoltage(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(name)
	if v <= 0 {
		g.voltage = nil
		return
	}
	g.voltage = &v
}

// SetSessions replaces the active and future sessions of a group.
func (s *Site) SetSessions(name string, active, future []httpport.SessionDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(name)
	g.active = append([]httpport.SessionDTO(nil), active...)
	g.future = append([]httpport.SessionDTO(nil), future...)
}

// AddReservation appends a future session to a group.
func (s *Site) AddReservation(name string, ev httpport.SessionDTO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(name)
	g.future = append(g.future, ev)
}

// Budget returns the budget points of a group up to until.
func (s *Site) Budget(name string, until time.Time) httpport.BudgetResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := httpport.BudgetResponse{}
	g, ok := s.groups[name]
	if !ok {
		return out
	}
	for k, v := range g.budget {
		at, err := time.Parse(time.RFC3339, k)
		if err != nil || at.After(until) {
			continue
		}
		out[k] = v
	}
	return out
}

// Active returns the plugged-in sessions of a group.
func (s *Site) Active(name string) httpport.ActiveResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := httpport.ActiveResponse{EVs: []httpport.SessionDTO{}}
	if g, ok := s.groups[name]; ok {
		resp.EVs = append(resp.EVs, g.active...)
		resp.Voltage = g.voltage
	}
	return resp
}

// Future returns the reservations of a group.
func (s *Site) Future(name string) httpport.FutureResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := httpport.FutureResponse{EVs: []httpport.SessionDTO{}}
	if g, ok := s.groups[name]; ok {
		resp.EVs = append(resp.EVs, g.future...)
		resp.Voltage = g.voltage
	}
	return resp
}

// RecordPowers stores a received profile set.
func (s *Site) RecordPowers(req httpport.PowersRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powers = append(s.powers, req)
}

// Powers returns every profile set received so far, oldest first.
func (s *Site) Powers() []httpport.PowersRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]httpport.PowersRequest(nil), s.powers...)
}

// Advance plugs in reservations whose arrival has passed, provided their
// connector is free, and drops sessions that have departed. It returns the
// number of sessions that changed state.
func (s *Site) Advance(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, g := range s.groups {
		kept := g.active[:0]
		busy := make(map[string]bool)
		for _, ev := range g.active {
			if !ev.DepartureTime.After(now) {
				changed++
				continue
			}
			busy[connectorKey(ev)] = true
			kept = append(kept, ev)
		}
		g.active = kept

		sort.SliceStable(g.future, func(i, j int) bool { return g.future[i].ArrivalTime.Before(g.future[j].ArrivalTime) })
		pending := g.future[:0]
		for _, ev := range g.future {
			switch {
			case !ev.DepartureTime.After(now):
				changed++
			case !ev.ArrivalTime.After(now) && !busy[connectorKey(ev)]:
				busy[connectorKey(ev)] = true
				g.active = append(g.active, ev)
				changed++
			default:
				pending = append(pending, ev)
			}
		}
		g.future = pending
	}
	return changed
}

func connectorKey(ev httpport.SessionDTO) string {
	return string(ev.StationID) + "/" + strconv.Itoa(ev.ConnectorID)
}
