package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/scm/core/logger"
	"github.com/kilianp07/scm/core/queue"
)

// Backoff doubles the wait after each failure up to Max.
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	attempt int
}

// Next returns the wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	min, max := b.Min, b.Max
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = 30 * time.Second
	}
	d := min
	for i := 0; i < b.attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	b.attempt++
	return d
}

// Reset restarts from Min.
func (b *Backoff) Reset() { b.attempt = 0 }

// RunWithReconnect calls session until ctx is done. A session ending with
// queue.ErrClosed stops the loop; any other error is logged and retried after
// a backoff. A session that returns nil was closed by the peer; the backoff is
// reset and the source reconnects after Min.
func RunWithReconnect(ctx context.Context, log logger.Logger, b *Backoff, session func(context.Context) error) error {
	for {
		err := session(ctx)
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err == nil {
			b.Reset()
		}
		wait := b.Next()
		if err != nil {
			log.Warnf("reservation source disconnected: %v; retrying in %s", err, wait)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
