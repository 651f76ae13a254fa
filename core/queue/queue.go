// Package queue is the only synchronisation point between the trigger
// producers and the control loop: an unbounded FIFO with many producers and a
// single consumer.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/scm/core/events"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("event queue closed")

// Enqueuer is the producer side of the queue. Trigger sources only ever see
// this interface.
type Enqueuer interface {
	Push(events.Event) error
}

// Option customises a Queue.
type Option func(*Queue)

// WithDepthGauge exports the queue length on g after every change.
func WithDepthGauge(g prometheus.Gauge) Option {
	return func(q *Queue) { q.depth = g }
}

// Queue is an unbounded FIFO of events. Push never blocks; Pop blocks while
// the queue is empty. Events are neither merged nor reordered.
type Queue struct {
	mu     sync.Mutex
	items  []events.Event
	closed bool
	notify chan struct{}
	depth  prometheus.Gauge
}

// New returns an empty open queue.
func New(opts ...Option) *Queue {
	q := &Queue{notify: make(chan struct{}, 1)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push appends e to the queue.
func (q *Queue) Push(e events.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, e)
	q.observe()
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes and returns the oldest event. It blocks until an event is
// available, ctx is done, or the queue is closed and empty.
func (q *Queue) Pop(ctx context.Context) (events.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = events.Event{}
			q.items = q.items[1:]
			q.observe()
			q.mu.Unlock()
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return events.Event{}, ErrClosed
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		}
	}
}

// Close rejects further pushes. Events already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// observe must be called with mu held.
func (q *Queue) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.items)))
	}
}
