package trigger

import (
	"context"
	"time"

	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/queue"
)

// Timer emits a Tick every Interval. Fires are aligned on multiples of the
// interval since the Unix epoch so that recomputes start with a planning step.
type Timer struct {
	Interval time.Duration
	now      func() time.Time
}

// NewTimer returns a timer firing every interval.
func NewTimer(interval time.Duration) *Timer {
	return &Timer{Interval: interval, now: time.Now}
}

// Name implements Source.
func (t *Timer) Name() string { return "timer" }

// NextFire returns the first aligned instant strictly after from.
func (t *Timer) NextFire(from time.Time) time.Time {
	next := from.Truncate(t.Interval)
	if !next.After(from) {
		next = next.Add(t.Interval)
	}
	return next
}

// Run implements Source. A rejected push ends the timer without error.
func (t *Timer) Run(ctx context.Context, q queue.Enqueuer) error {
	if t.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	now := t.now
	if now == nil {
		now = time.Now
	}
	for {
		wait := t.NextFire(now()).Sub(now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := q.Push(events.Tick()); err != nil {
			return nil
		}
	}
}
