package history

import (
	"context"

	"github.com/kilianp07/scm/core/logger"
	"github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/internal/eventbus"
)

// StartRecorder appends every cycle published on bus to store until ctx is
// canceled or the bus is closed. The returned channel is closed on exit.
func StartRecorder(ctx context.Context, bus *eventbus.TypedBus[metrics.CycleRecord], store Store, unit model.ChargingRateUnit, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || store == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-sub:
				if !ok {
					return
				}
				if err := store.Append(ctx, FromCycle(rec, unit)); err != nil && log != nil {
					log.Warnf("history append %s: %v", rec.CycleID, err)
				}
			}
		}
	}()
	return done
}
