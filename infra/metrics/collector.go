package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/infra/logger"
	"github.com/kilianp07/scm/internal/eventbus"
)

// StartEventCollector subscribes to the cycle bus and forwards every record to
// sink. It stops when the context is canceled or the bus is closed. The
// returned channel is closed once the collector has exited.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[coremetrics.CycleRecord], sink coremetrics.MetricsSink, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	if log == nil {
		log = logger.NopLogger{}
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
				if err := coremetrics.Record(sink, rec); err != nil {
					log.Warnf("metrics sink: %v", err)
				}
			}
		}
	}()
	return done
}
