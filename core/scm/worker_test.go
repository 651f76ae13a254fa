package scm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/internal/eventbus"
)

var now = time.Date(2025, 3, 23, 10, 0, 0, 0, time.UTC)

type fakePort struct {
	mu           sync.Mutex
	budget       []float64
	budgetErr    error
	sessions     []model.Session
	voltage      float64
	sessionsErr  error
	publishErr   error
	published    []model.Allocation
	units        []model.ChargingRateUnit
	hints        []float64
	sessionCalls int
	publishCalls int
}

func (f *fakePort) FetchPowerBudget(_ context.Context, _ string, ref time.Time, hint float64) (model.BudgetCurve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, hint)
	if f.budgetErr != nil {
		return model.BudgetCurve{}, f.budgetErr
	}
	if len(f.budget) == 0 {
		return model.BudgetCurve{}, nil
	}
	return model.BudgetCurve{Start: ref, Step: 15 * time.Minute, Values: append([]float64(nil), f.budget...)}, nil
}

func (f *fakePort) FetchSessions(context.Context, string) ([]model.Session, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCalls++
	if f.sessionsErr != nil {
		return nil, 0, f.sessionsErr
	}
	return append([]model.Session(nil), f.sessions...), f.voltage, nil
}

func (f *fakePort) PublishAllocation(_ context.Context, alloc model.Allocation, unit model.ChargingRateUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, alloc)
	f.units = append(f.units, unit)
	return nil
}

func active(id string, max, energy float64) model.Session {
	return model.Session{
		ID:              id,
		StationID:       "st-" + id,
		ConnectorID:     1,
		Status:          model.StatusActive,
		MaxPower:        max,
		Arrival:         now.Add(-10 * time.Minute),
		Departure:       now.Add(time.Hour),
		EnergyRemaining: energy,
		Unit:            model.UnitW,
	}
}

func testConfig(groups ...string) Config {
	cfg := Config{Groups: groups, HorizonSteps: 4, StepMinutes: 15}
	cfg.SetDefaults()
	return cfg
}

func newTestWorker(t *testing.T, cfg Config, port SitePort, q Dequeuer, opts ...Option) *Worker {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	w, err := NewWorker(cfg, port, algorithm.NewGreedyAlgorithm(), q, opts...)
	require.NoError(t, err)
	return w
}

func TestRunCyclePublishes(t *testing.T) {
	port := &fakePort{budget: []float64{10, 20, 10, 30}, sessions: []model.Session{active("a", 7, 100)}}
	w := newTestWorker(t, testConfig("g1"), port, queue.New())

	rec := w.RunCycle(context.Background(), "g1", events.Tick())

	assert.Equal(t, metrics.OutcomePublished, rec.Outcome)
	require.Len(t, port.published, 1)
	alloc := port.published[0]
	assert.Equal(t, "g1", alloc.Group)
	assert.Equal(t, now, alloc.Reference)
	assert.InDeltaSlice(t, []float64{7, 7, 7, 7}, alloc.Power("a"), 1e-9)
	assert.Equal(t, model.UnitW, port.units[0])
	assert.Equal(t, []float64{230}, port.hints)
	assert.Equal(t, 1, rec.Sessions)
	assert.Equal(t, 1, rec.ActiveSessions)
	assert.InDelta(t, 93, rec.Unmet["a"], 1e-9)
	assert.NotEmpty(t, rec.CycleID)
	assert.Equal(t, "tick", rec.Trigger)
	assert.Equal(t, 1.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("g1", string(metrics.OutcomePublished))))
}

func TestRunCycleWithLP(t *testing.T) {
	port := &fakePort{budget: []float64{10, 20, 10, 30}, sessions: []model.Session{active("a", 7, 100), active("b", 7, 1)}}
	ResetMetrics(prometheus.NewRegistry())
	w, err := NewWorker(testConfig("g1"), port, algorithm.NewLPAlgorithm(), queue.New(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	rec := w.RunCycle(context.Background(), "g1", events.Tick())

	require.Equal(t, metrics.OutcomePublished, rec.Outcome, rec.Err)
	require.Len(t, port.published, 1)
	assert.InDelta(t, 1, port.published[0].Energy("b"), 1e-6)
}

func TestRunCycleSkipsWithoutBudget(t *testing.T) {
	port := &fakePort{sessions: []model.Session{active("a", 7, 100)}}
	w := newTestWorker(t, testConfig("g1"), port, queue.New())

	rec := w.RunCycle(context.Background(), "g1", events.Tick())

	assert.Equal(t, metrics.OutcomeSkippedNoBudget, rec.Outcome)
	assert.Zero(t, port.sessionCalls)
	assert.Zero(t, port.publishCalls)
}

func TestRunCycleSkipsWithoutActiveSessions(t *testing.T) {
	future := active("f", 7, 10)
	future.Status = model.StatusFuture
	future.Arrival = now.Add(30 * time.Minute)
	port := &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{future}}
	w := newTestWorker(t, testConfig("g1"), port, queue.New())

	rec := w.RunCycle(context.Background(), "g1", events.Tick())

	assert.Equal(t, metrics.OutcomeSkippedNoSessions, rec.Outcome)
	assert.Zero(t, port.publishCalls)
}

func TestRunCycleAborts(t *testing.T) {
	malformed := active("m", 7, 10)
	malformed.MinPower = 9

	tests := []struct {
		name string
		port *fakePort
		want metrics.Outcome
	}{
		{"budget error", &fakePort{budgetErr: errors.New("down")}, metrics.OutcomeAbortedBudget},
		{"budget too short", &fakePort{budget: []float64{10, 10}}, metrics.OutcomeAbortedBudget},
		{"negative budget", &fakePort{budget: []float64{10, -1, 10, 10}}, metrics.OutcomeAbortedBudget},
		{"session error", &fakePort{budget: []float64{10, 10, 10, 10}, sessionsErr: errors.New("timeout")}, metrics.OutcomeAbortedSessions},
		{"voltage mismatch", &fakePort{budget: []float64{10, 10, 10, 10}, sessionsErr: fmt.Errorf("%w: 230 vs 400", ErrVoltageMismatch)}, metrics.OutcomeAbortedSessions},
		{"malformed session", &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{malformed}}, metrics.OutcomeAbortedMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(t, testConfig("g1"), tt.port, queue.New())
			rec := w.RunCycle(context.Background(), "g1", events.Tick())
			assert.Equal(t, tt.want, rec.Outcome)
			assert.NotEmpty(t, rec.Err)
			assert.Zero(t, tt.port.publishCalls)
		})
	}
}

func TestRunCycleDefaultsVoltage(t *testing.T) {
	s := active("a", 16, 10000)
	s.Unit = model.UnitA

	port := &fakePort{budget: []float64{1e5, 1e5, 1e5, 1e5}, sessions: []model.Session{s}}
	w := newTestWorker(t, testConfig("g1"), port, queue.New())
	rec := w.RunCycle(context.Background(), "g1", events.Tick())
	require.Equal(t, metrics.OutcomePublished, rec.Outcome, rec.Err)
	assert.Equal(t, 230.0, port.published[0].Entries[0].Session.Voltage)
	assert.InDelta(t, 16*230, port.published[0].Power("a")[0], 1e-9)

	port = &fakePort{budget: []float64{1e5, 1e5, 1e5, 1e5}, sessions: []model.Session{s}, voltage: 400}
	w = newTestWorker(t, testConfig("g1"), port, queue.New())
	rec = w.RunCycle(context.Background(), "g1", events.Tick())
	require.Equal(t, metrics.OutcomePublished, rec.Outcome, rec.Err)
	assert.Equal(t, 400.0, port.published[0].Entries[0].Session.Voltage)
}

func TestRunCyclePublishesInConfiguredUnit(t *testing.T) {
	cfg := testConfig("g1")
	cfg.OutputUnit = "A"
	port := &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}}
	w := newTestWorker(t, cfg, port, queue.New())
	w.RunCycle(context.Background(), "g1", events.Tick())
	require.Len(t, port.units, 1)
	assert.Equal(t, model.UnitA, port.units[0])
}

func TestHandleEventRunsEveryGroup(t *testing.T) {
	port := &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}}
	w := newTestWorker(t, testConfig("g1", "g2"), port, queue.New())

	recs := w.HandleEvent(context.Background(), events.ReservationChanged("ws", "booking"))

	require.Len(t, recs, 2)
	assert.Equal(t, "g1", recs[0].Group)
	assert.Equal(t, "g2", recs[1].Group)
	assert.Equal(t, "reservation_changed", recs[1].Trigger)
	assert.Equal(t, "ws", recs[1].TriggerSource)
	require.Len(t, port.published, 2)
	assert.Equal(t, "g2", port.published[1].Group)
}

func TestRunContinuesAfterPublishFailure(t *testing.T) {
	port := &fakePort{
		budget:     []float64{10, 10, 10, 10},
		sessions:   []model.Session{active("a", 7, 100)},
		publishErr: errors.New("site unreachable"),
	}
	q := queue.New()
	w := newTestWorker(t, testConfig("g1"), port, q)
	require.NoError(t, q.Push(events.Tick()))
	require.NoError(t, q.Push(events.Tick()))
	require.NoError(t, q.Push(events.Stop()))

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 2, port.publishCalls)
	assert.Equal(t, 2.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("g1", string(metrics.OutcomePublishFailed))))
	assert.Equal(t, StateStopped, w.State())
}

func TestStopEndsLoop(t *testing.T) {
	port := &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}}
	q := queue.New()
	w := newTestWorker(t, testConfig("g1"), port, q)
	assert.Equal(t, StateIdle, w.State())

	require.NoError(t, q.Push(events.Stop()))
	require.NoError(t, q.Push(events.Tick()))

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, port.publishCalls)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(eventsTotal.WithLabelValues("stop")))
}

func TestEventsHandledInArrivalOrder(t *testing.T) {
	port := &fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}}
	bus := eventbus.NewTyped[metrics.CycleRecord]()
	sub := bus.Subscribe()
	q := queue.New()
	w := newTestWorker(t, testConfig("g1"), port, q, WithBus(bus))

	for _, src := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(events.ReservationChanged(src, "")))
	}
	require.NoError(t, q.Push(events.Stop()))
	require.NoError(t, w.Run(context.Background()))

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case rec := <-sub:
			got = append(got, rec.TriggerSource)
		case <-time.After(time.Second):
			t.Fatal("missing cycle record")
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRunReturnsOnCancelWhileIdle(t *testing.T) {
	w := newTestWorker(t, testConfig("g1"), &fakePort{}, queue.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not return")
	}
}

func TestRunReturnsWhenQueueClosed(t *testing.T) {
	q := queue.New()
	w := newTestWorker(t, testConfig("g1"), &fakePort{}, q)
	require.NoError(t, q.Push(events.Start()))
	q.Close()
	require.NoError(t, w.Run(context.Background()))
}

func TestNewWorkerValidates(t *testing.T) {
	_, err := NewWorker(Config{}, &fakePort{}, algorithm.NewGreedyAlgorithm(), queue.New())
	assert.Error(t, err)
	_, err = NewWorker(testConfig("g1"), nil, algorithm.NewGreedyAlgorithm(), queue.New())
	assert.Error(t, err)
}

type panickingPort struct {
	fakePort
	panicOn string
}

func (p *panickingPort) FetchSessions(ctx context.Context, group string) ([]model.Session, float64, error) {
	if p.panicOn == "sessions" {
		panic("decoder bug in site backend")
	}
	return p.fakePort.FetchSessions(ctx, group)
}

func (p *panickingPort) PublishAllocation(ctx context.Context, alloc model.Allocation, unit model.ChargingRateUnit) error {
	if p.panicOn == "publish" {
		panic("nil client")
	}
	return p.fakePort.PublishAllocation(ctx, alloc, unit)
}

type panickingAlgorithm struct{}

func (panickingAlgorithm) Name() string { return "broken" }

func (panickingAlgorithm) Solve([]model.Session, model.BudgetCurve, algorithm.HorizonConfig) (model.Allocation, error) {
	panic("index out of range")
}

func TestRunCycleRecoversPanics(t *testing.T) {
	tests := []struct {
		name    string
		panicOn string
		alg     algorithm.Algorithm
		want    metrics.Outcome
		stage   string
	}{
		{"session fetch", "sessions", algorithm.NewGreedyAlgorithm(), metrics.OutcomeAbortedPanic, "session fetch"},
		{"publish", "publish", algorithm.NewGreedyAlgorithm(), metrics.OutcomeAbortedPanic, "publish"},
		{"solver", "", panickingAlgorithm{}, metrics.OutcomeInfeasible, "solve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &panickingPort{
				fakePort: fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}},
				panicOn:  tt.panicOn,
			}
			ResetMetrics(prometheus.NewRegistry())
			w, err := NewWorker(testConfig("g1"), port, tt.alg, queue.New(), WithClock(func() time.Time { return now }))
			require.NoError(t, err)

			var rec metrics.CycleRecord
			require.NotPanics(t, func() { rec = w.RunCycle(context.Background(), "g1", events.Tick()) })
			assert.Equal(t, tt.want, rec.Outcome)
			assert.Contains(t, rec.Err, "panic during "+tt.stage)
			assert.Empty(t, port.published)
			assert.Equal(t, 1.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("g1", string(tt.want))))
		})
	}
}

func TestRunSurvivesPanickingPort(t *testing.T) {
	port := &panickingPort{
		fakePort: fakePort{budget: []float64{10, 10, 10, 10}, sessions: []model.Session{active("a", 7, 100)}},
		panicOn:  "sessions",
	}
	bus := eventbus.NewTyped[metrics.CycleRecord]()
	sub := bus.Subscribe()
	q := queue.New()
	w := newTestWorker(t, testConfig("g1"), port, q, WithBus(bus))
	require.NoError(t, q.Push(events.Tick()))
	require.NoError(t, q.Push(events.Tick()))
	require.NoError(t, q.Push(events.Stop()))

	require.NotPanics(t, func() { require.NoError(t, w.Run(context.Background())) })
	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, q.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("g1", string(metrics.OutcomeAbortedPanic))))
	for i := 0; i < 2; i++ {
		select {
		case rec := <-sub:
			assert.Equal(t, metrics.OutcomeAbortedPanic, rec.Outcome)
		case <-time.After(time.Second):
			t.Fatal("missing cycle record")
		}
	}
}
