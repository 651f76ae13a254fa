package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/infra/logger"
)

// InfluxSink writes cycle records to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// InfluxConfig holds the connection settings of the InfluxDB sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordCycle writes one scm_cycle point.
func (s *InfluxSink) RecordCycle(rec coremetrics.CycleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, cyclePoint(rec))
}

// RecordAllocation writes one scm_allocation point per session and step.
func (s *InfluxSink) RecordAllocation(rec coremetrics.CycleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, allocationPoints(rec)...)
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func cyclePoint(rec coremetrics.CycleRecord) *write.Point {
	p := write.NewPointWithMeasurement("scm_cycle").
		AddTag("group", rec.Group).
		AddTag("outcome", string(rec.Outcome)).
		AddTag("trigger", rec.Trigger).
		AddTag("algorithm", rec.Algorithm).
		AddField("cycle_id", rec.CycleID).
		AddField("duration_ms", round3(float64(rec.Duration)/float64(time.Millisecond))).
		AddField("sessions", rec.Sessions).
		AddField("active_sessions", rec.ActiveSessions).
		SetTime(rec.Time)
	if rec.Err != "" {
		p = p.AddField("error", rec.Err)
	}
	return p
}

func allocationPoints(rec coremetrics.CycleRecord) []*write.Point {
	var pts []*write.Point
	for _, e := range rec.Allocation.Entries {
		for t, w := range e.Power {
			pts = append(pts, write.NewPointWithMeasurement("scm_allocation").
				AddTag("group", rec.Group).
				AddTag("session_id", e.Session.ID).
				AddTag("station_id", e.Session.StationID).
				AddField("power_w", round3(w)).
				AddField("unmet_wh", round3(rec.Unmet[e.Session.ID])).
				SetTime(rec.Allocation.Reference.Add(time.Duration(t)*rec.Allocation.Step)))
		}
	}
	return pts
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
