// Package trigger holds the producers that wake the control loop: the
// periodic Timer and the reservation sources. A source only ever sees the
// queue.Enqueuer interface and knows nothing about other listeners.
package trigger

import (
	"context"
	"fmt"

	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
)

// Source is a long lived producer of trigger events. Run blocks until ctx is
// done or the queue rejects a push. Cancelling ctx must release the
// underlying connection promptly.
type Source interface {
	Name() string
	Run(ctx context.Context, q queue.Enqueuer) error
}

// Notify pushes a ReservationChanged event for source.
func Notify(q queue.Enqueuer, source, detail string) error {
	return q.Push(events.ReservationChanged(source, detail))
}

var sourceRegistry = factory.NewRegistry[Source]()

// RegisterSource adds a reservation source factory identified by name.
func RegisterSource(name string, f factory.Factory[Source]) error {
	return sourceRegistry.Register(name, f)
}

// NewSource creates a reservation source from its configuration.
func NewSource(cfg factory.ModuleConfig) (Source, error) {
	return sourceRegistry.Create(cfg)
}

// NewSources creates every configured reservation source.
func NewSources(cfgs []factory.ModuleConfig) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := NewSource(c)
		if err != nil {
			return nil, fmt.Errorf("reservation source %d (%s): %w", i, c.Type, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// SourceTypes lists the registered reservation source types.
func SourceTypes() []string { return sourceRegistry.Types() }
