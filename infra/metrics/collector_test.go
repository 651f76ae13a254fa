package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/infra/logger"
	"github.com/kilianp07/scm/internal/eventbus"
)

type countingSink struct {
	mu          sync.Mutex
	cycles      int
	allocations int
}

func (c *countingSink) RecordCycle(coremetrics.CycleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
	return nil
}

func (c *countingSink) RecordAllocation(coremetrics.CycleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allocations++
	return nil
}

func (c *countingSink) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles, c.allocations
}

func TestStartEventCollector(t *testing.T) {
	bus := eventbus.NewTyped[coremetrics.CycleRecord]()
	sink := &countingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartEventCollector(ctx, bus, sink, logger.NopLogger{})

	bus.Publish(coremetrics.CycleRecord{Outcome: coremetrics.OutcomePublished})
	bus.Publish(coremetrics.CycleRecord{Outcome: coremetrics.OutcomeAbortedBudget})

	deadline := time.After(time.Second)
	for {
		c, a := sink.counts()
		if c == 2 && a == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("collector did not forward records: cycles=%d allocations=%d", c, a)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestStartEventCollectorNilBus(t *testing.T) {
	done := StartEventCollector(context.Background(), nil, &countingSink{}, nil)
	select {
	case <-done:
	default:
		t.Fatal("expected closed channel for nil bus")
	}
}
