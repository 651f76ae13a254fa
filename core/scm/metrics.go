package scm

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	eventsTotal   *prometheus.CounterVec
	queueDepth    prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Gauge) {
	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scm_cycles_total",
			Help: "Recompute cycles per group and outcome",
		},
		[]string{"group", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scm_cycle_duration_seconds",
			Help:    "Duration of a recompute cycle from fetch to publish",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)
	evs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scm_events_total",
			Help: "Trigger events dequeued by the control loop",
		},
		[]string{"kind"},
	)
	depth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scm_queue_depth",
			Help: "Events waiting in the trigger queue",
		},
	)
	return cycles, duration, evs, depth
}

func init() {
	cyclesTotal, cycleDuration, eventsTotal, queueDepth = newCollectors()
	MustRegisterMetrics(nil)
}

// QueueDepthGauge is the gauge to hand to queue.WithDepthGauge.
func QueueDepthGauge() prometheus.Gauge { return queueDepth }

// MustRegisterMetrics registers the control loop metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cyclesTotal, cycleDuration, eventsTotal, queueDepth)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	cyclesTotal, cycleDuration, eventsTotal, queueDepth = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
