package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/trigger"
)

type fakeReader struct {
	msgs   chan kafka.Message
	err    error
	mu     sync.Mutex
	closed int
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func useReader(r messageReader) func() {
	prev := newReader
	newReader = func(Config) messageReader { return r }
	return func() { newReader = prev }
}

func TestReservationSourceForwards(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 2)}
	defer useReader(r)()
	src, err := NewReservationSource(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)

	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, q) }()

	r.msgs <- kafka.Message{Topic: "scm.reservations", Key: []byte("site-1")}
	r.msgs <- kafka.Message{Topic: "scm.reservations"}

	for _, want := range []string{"site-1", "scm.reservations"} {
		popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := q.Pop(popCtx)
		popCancel()
		require.NoError(t, err)
		assert.Equal(t, events.KindReservationChanged, ev.Kind)
		assert.Equal(t, "kafka", ev.Source)
		assert.Equal(t, want, ev.Detail)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("source did not stop")
	}
	r.mu.Lock()
	assert.Equal(t, 1, r.closed)
	r.mu.Unlock()
}

func TestReservationSourceRetriesReadErrors(t *testing.T) {
	r := &fakeReader{err: errors.New("broker unavailable")}
	defer useReader(r)()
	src, err := NewReservationSource(Config{Brokers: []string{"localhost:9092"}, BackoffMS: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, queue.New()) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.closed >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestProfileMirrorWritesKeyedMessages(t *testing.T) {
	w := &fakeWriter{}
	prev := newWriter
	newWriter = func(Config) messageWriter { return w }
	defer func() { newWriter = prev }()

	m, err := NewProfileMirror(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	profiles := []model.ChargingProfile{{SessionID: "s1", StationID: "st1"}, {SessionID: "s2", StationID: "st1", ConnectorID: 2}}
	require.NoError(t, m.PublishProfiles(context.Background(), "g1", profiles))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "s1", string(w.msgs[0].Key))
	assert.Equal(t, "s2", string(w.msgs[1].Key))
	var msg model.ProfileMessage
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &msg))
	assert.Equal(t, "g1", msg.Group)
	assert.Equal(t, 2, msg.Profile.ConnectorID)

	require.NoError(t, m.PublishProfiles(context.Background(), "g1", nil))
	assert.Len(t, w.msgs, 2)
}

func TestRegisteredAndValidated(t *testing.T) {
	src, err := trigger.NewSource(factory.ModuleConfig{Type: "kafka", Conf: map[string]any{"brokers": []any{"localhost:9092"}}})
	require.NoError(t, err)
	assert.Equal(t, "kafka", src.Name())

	_, err = NewReservationSource(Config{})
	assert.Error(t, err)
	_, err = NewProfileMirror(Config{})
	assert.Error(t, err)
}
