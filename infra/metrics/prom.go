package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exports the latest cycle of every group as Prometheus gauges.
type PromSink struct {
	lastCycle *prometheus.GaugeVec
	budget    *prometheus.GaugeVec
	allocated *prometheus.GaugeVec
	unmet     *prometheus.GaugeVec
	sessions  *prometheus.GaugeVec
}

// NewPromSink registers the sink collectors on the default registerer. The
// HTTP endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		lastCycle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scm_last_cycle_timestamp_seconds",
			Help: "Unix time of the last cycle per group and outcome",
		}, []string{"group", "outcome"}),
		budget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scm_budget_watts",
			Help: "Site power budget for the current step",
		}, []string{"group"}),
		allocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scm_allocated_power_watts",
			Help: "Power dispatched to a session for the current step",
		}, []string{"group", "session_id"}),
		unmet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scm_unmet_energy_wh",
			Help: "Energy a session will not receive within the horizon",
		}, []string{"group", "session_id"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scm_sessions",
			Help: "Sessions in the last snapshot per status",
		}, []string{"group", "status"}),
	}
	var err error
	if s.lastCycle, err = register(reg, s.lastCycle); err != nil {
		return nil, err
	}
	if s.budget, err = register(reg, s.budget); err != nil {
		return nil, err
	}
	if s.allocated, err = register(reg, s.allocated); err != nil {
		return nil, err
	}
	if s.unmet, err = register(reg, s.unmet); err != nil {
		return nil, err
	}
	if s.sessions, err = register(reg, s.sessions); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when an identical one
// exists, so several sinks can share a registry.
func register(reg prometheus.Registerer, c *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// RecordCycle implements coremetrics.MetricsSink.
func (s *PromSink) RecordCycle(rec coremetrics.CycleRecord) error {
	s.lastCycle.WithLabelValues(rec.Group, string(rec.Outcome)).Set(float64(rec.Time.Unix()))
	if !rec.Outcome.Solved() {
		return nil
	}
	s.sessions.WithLabelValues(rec.Group, "active").Set(float64(rec.ActiveSessions))
	s.sessions.WithLabelValues(rec.Group, "future").Set(float64(rec.Sessions - rec.ActiveSessions))
	if len(rec.Budget.Values) > 0 {
		s.budget.WithLabelValues(rec.Group).Set(rec.Budget.Values[0])
	}
	return nil
}

// RecordAllocation implements coremetrics.AllocationRecorder. Series of
// sessions gone since the previous cycle are removed.
func (s *PromSink) RecordAllocation(rec coremetrics.CycleRecord) error {
	s.allocated.DeletePartialMatch(prometheus.Labels{"group": rec.Group})
	s.unmet.DeletePartialMatch(prometheus.Labels{"group": rec.Group})
	for _, e := range rec.Allocation.Entries {
		var first float64
		if len(e.Power) > 0 {
			first = e.Power[0]
		}
		s.allocated.WithLabelValues(rec.Group, e.Session.ID).Set(first)
	}
	for id, wh := range rec.Unmet {
		s.unmet.WithLabelValues(rec.Group, id).Set(wh)
	}
	return nil
}
