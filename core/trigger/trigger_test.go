package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/infra/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	fail   error
}

func (r *recorder) Push(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestTimerNextFireAligned(t *testing.T) {
	tm := NewTimer(15 * time.Minute)
	from := time.Date(2025, 3, 23, 6, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 23, 6, 15, 0, 0, time.UTC), tm.NextFire(from))
	onBoundary := time.Date(2025, 3, 23, 6, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 23, 6, 30, 0, 0, time.UTC), tm.NextFire(onBoundary))
}

func TestTimerEmitsTicks(t *testing.T) {
	rec := &recorder{}
	tm := NewTimer(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.Run(ctx, rec) }()

	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer did not stop on cancel")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		assert.Equal(t, events.KindTick, e.Kind)
		assert.Equal(t, "timer", e.Source)
	}
}

func TestTimerStopsSilentlyOnClosedQueue(t *testing.T) {
	q := queue.New()
	q.Close()
	tm := NewTimer(5 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- tm.Run(context.Background(), q) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer kept running on a closed queue")
	}
}

func TestNotify(t *testing.T) {
	q := queue.New()
	require.NoError(t, Notify(q, "websocket", "NEW_RESERVATION"))
	e, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events.KindReservationChanged, e.Kind)
	assert.Equal(t, "websocket", e.Source)
	assert.Equal(t, "NEW_RESERVATION", e.Detail)
}

func TestBackoff(t *testing.T) {
	b := &Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 50*time.Millisecond, b.Next())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestRunWithReconnect(t *testing.T) {
	var calls int
	b := &Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	err := RunWithReconnect(context.Background(), logger.NopLogger{}, b, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return queue.ErrClosed
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunWithReconnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backoff{Min: time.Hour, Max: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- RunWithReconnect(ctx, logger.NopLogger{}, b, func(context.Context) error {
			return errors.New("down")
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconnect loop ignored cancellation")
	}
}

type stubSource struct{ name string }

func (s stubSource) Name() string                               { return s.name }
func (s stubSource) Run(context.Context, queue.Enqueuer) error { return nil }

func TestSourceRegistry(t *testing.T) {
	require.NoError(t, RegisterSource("stub-test", func(conf map[string]any) (Source, error) {
		var c struct {
			Name string `json:"name"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return stubSource{name: c.Name}, nil
	}))
	srcs, err := NewSources([]factory.ModuleConfig{{Type: "stub-test", Conf: map[string]any{"name": "a"}}})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "a", srcs[0].Name())
	assert.Contains(t, SourceTypes(), "stub-test")

	_, err = NewSources([]factory.ModuleConfig{{Type: "nope"}})
	assert.Error(t, err)
}
