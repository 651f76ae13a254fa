// Package scm runs the smart charging control loop: a single worker that
// consumes trigger events and, for every configured site group, fetches the
// power budget and the session snapshot, solves the allocation and publishes
// the resulting charging profiles.
package scm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/logger"
	"github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/internal/eventbus"
)

// Dequeuer is the consumer side of the event queue.
type Dequeuer interface {
	Pop(ctx context.Context) (events.Event, error)
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WithBus publishes one CycleRecord per group and cycle on bus.
func WithBus(bus *eventbus.TypedBus[metrics.CycleRecord]) Option {
	return func(w *Worker) { w.bus = bus }
}

// WithClock overrides the time source used for reference times.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker is the control loop. Events are handled strictly one at a time in
// arrival order; only a Stop event ends Run.
type Worker struct {
	cfg   Config
	port  SitePort
	alg   algorithm.Algorithm
	queue Dequeuer
	bus   *eventbus.TypedBus[metrics.CycleRecord]
	log   logger.Logger
	now   func() time.Time
	state atomic.Int32
}

// NewWorker validates cfg and returns an idle worker.
func NewWorker(cfg Config, port SitePort, alg algorithm.Algorithm, q Dequeuer, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scm config: %w", err)
	}
	if port == nil || alg == nil || q == nil {
		return nil, errors.New("scm: port, algorithm and queue are required")
	}
	w := &Worker{
		cfg:   cfg,
		port:  port,
		alg:   alg,
		queue: q,
		log:   logger.NopLogger{},
		now:   time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	w.state.Store(int32(StateIdle))
	return w, nil
}

// State returns the current loop state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Run consumes events until a Stop event is dequeued. It also returns when
// the queue is closed and drained or when ctx is cancelled while waiting; in
// both cases no further cycle is started.
func (w *Worker) Run(ctx context.Context) error {
	defer w.state.Store(int32(StateStopped))
	for {
		ev, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				w.log.Warnf("event queue closed without stop event")
				return nil
			}
			return err
		}
		eventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		if ev.IsStop() {
			w.log.Infof("stop event received, control loop exiting")
			return nil
		}
		w.state.Store(int32(StateRecomputing))
		w.HandleEvent(ctx, ev)
		w.state.Store(int32(StateIdle))
	}
}

// HandleEvent runs one recompute cycle per configured group and returns the
// cycle records in group order.
func (w *Worker) HandleEvent(ctx context.Context, ev events.Event) []metrics.CycleRecord {
	w.log.Debugf("handling %s event from %s", ev.Kind, ev.Source)
	recs := make([]metrics.CycleRecord, 0, len(w.cfg.Groups))
	for _, g := range w.cfg.Groups {
		recs = append(recs, w.RunCycle(ctx, g, ev))
	}
	return recs
}

// RunCycle performs fetch, solve and publish for a single group. Failures are
// logged and reported through the returned record; they never stop the loop,
// panics from the port or the solver included.
func (w *Worker) RunCycle(ctx context.Context, group string, ev events.Event) (rec metrics.CycleRecord) {
	start := w.now()
	ref := start.Truncate(time.Second)
	rec = metrics.CycleRecord{
		CycleID:       uuid.NewString(),
		Group:         group,
		Trigger:       ev.Kind.String(),
		TriggerSource: ev.Source,
		Algorithm:     w.alg.Name(),
		Reference:     ref,
		Time:          start,
	}
	log := logger.With(logger.With(w.log, "group", group), "cycle_id", rec.CycleID)
	defer func() {
		rec.Duration = w.now().Sub(start)
		cyclesTotal.WithLabelValues(group, string(rec.Outcome)).Inc()
		cycleDuration.WithLabelValues(group).Observe(rec.Duration.Seconds())
		if w.bus != nil {
			w.bus.Publish(rec)
		}
	}()
	stage := "budget fetch"
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		rec.Outcome = metrics.OutcomeAbortedPanic
		if stage == "solve" {
			rec.Outcome = metrics.OutcomeInfeasible
		}
		rec.Err = fmt.Sprintf("panic during %s: %v", stage, r)
		log.Errorf("%s, cycle aborted", rec.Err)
		log.Debugf("%s", debug.Stack())
	}()
	fail := func(o metrics.Outcome, err error) metrics.CycleRecord {
		rec.Outcome = o
		if err != nil {
			rec.Err = err.Error()
		}
		return rec
	}
	horizon := w.cfg.Horizon()

	budget, err := w.fetchBudget(ctx, group, ref)
	switch {
	case err != nil:
		log.Warnf("budget fetch failed, cycle aborted: %v", err)
		return fail(metrics.OutcomeAbortedBudget, err)
	case budget.Empty():
		log.Infof("no power budget available, nothing published")
		return fail(metrics.OutcomeSkippedNoBudget, nil)
	}
	if budget.Start.IsZero() {
		budget.Start = ref
	}
	if budget.Step == 0 {
		budget.Step = horizon.StepWidth
	}
	rec.Budget = budget
	if err := budget.Validate(horizon.Steps); err != nil {
		log.Warnf("invalid power budget, cycle aborted: %v", err)
		return fail(metrics.OutcomeAbortedBudget, err)
	}
	if budget.Step != horizon.StepWidth {
		err := fmt.Errorf("%w: step %s, want %s", model.ErrMalformedBudget, budget.Step, horizon.StepWidth)
		log.Warnf("invalid power budget, cycle aborted: %v", err)
		return fail(metrics.OutcomeAbortedBudget, err)
	}

	stage = "session fetch"
	sessions, err := w.fetchSessions(ctx, group)
	if err != nil {
		if errors.Is(err, ErrVoltageMismatch) {
			log.Errorf("inconsistent session snapshot, cycle aborted: %v", err)
		} else {
			log.Warnf("session fetch failed, cycle aborted: %v", err)
		}
		return fail(metrics.OutcomeAbortedSessions, err)
	}
	rec.Sessions = len(sessions)
	if err := model.ValidateSessions(sessions); err != nil {
		log.Errorf("malformed session snapshot, cycle aborted: %v", err)
		return fail(metrics.OutcomeAbortedMalformed, err)
	}
	active, _ := model.SplitByStatus(sessions)
	rec.ActiveSessions = len(active)
	if len(active) == 0 {
		log.Infof("no active session, nothing published")
		return fail(metrics.OutcomeSkippedNoSessions, nil)
	}

	stage = "solve"
	alloc, err := w.alg.Solve(sessions, budget, horizon)
	if err != nil {
		if errors.Is(err, model.ErrMalformedSession) || errors.Is(err, model.ErrMalformedBudget) {
			log.Errorf("solver rejected input: %v", err)
			return fail(metrics.OutcomeAbortedMalformed, err)
		}
		log.Errorf("%s solver failed: %v", w.alg.Name(), err)
		return fail(metrics.OutcomeInfeasible, err)
	}
	if err := algorithm.Verify(sessions, budget, horizon, alloc); err != nil {
		err = &algorithm.InfeasibleAllocationError{Algorithm: w.alg.Name(), Err: err}
		log.Errorf("allocation rejected: %v", err)
		return fail(metrics.OutcomeInfeasible, err)
	}
	alloc.Group = group
	rec.Allocation = alloc
	rec.Unmet = algorithm.UnmetEnergy(sessions, alloc, horizon)

	stage = "publish"
	if err := w.publish(ctx, alloc); err != nil {
		log.Errorf("publishing %d profiles failed: %v", len(alloc.Entries), err)
		return fail(metrics.OutcomePublishFailed, err)
	}
	log.Infof("published %d profiles for %d sessions", len(alloc.Entries), len(sessions))
	rec.Outcome = metrics.OutcomePublished
	return rec
}

func (w *Worker) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := w.cfg.CallTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) fetchBudget(ctx context.Context, group string, ref time.Time) (model.BudgetCurve, error) {
	cctx, cancel := w.callCtx(ctx)
	defer cancel()
	return w.port.FetchPowerBudget(cctx, group, ref, w.cfg.DefaultVoltage)
}

// fetchSessions returns the snapshot with a voltage on every session: the
// site recommendation first, the configured default otherwise.
func (w *Worker) fetchSessions(ctx context.Context, group string) ([]model.Session, error) {
	cctx, cancel := w.callCtx(ctx)
	defer cancel()
	sessions, voltage, err := w.port.FetchSessions(cctx, group)
	if err != nil {
		return nil, err
	}
	if voltage <= 0 {
		voltage = w.cfg.DefaultVoltage
	}
	for i := range sessions {
		if sessions[i].Voltage <= 0 {
			sessions[i].Voltage = voltage
		}
	}
	return sessions, nil
}

func (w *Worker) publish(ctx context.Context, alloc model.Allocation) error {
	cctx, cancel := w.callCtx(ctx)
	defer cancel()
	return w.port.PublishAllocation(cctx, alloc, w.cfg.Unit())
}
