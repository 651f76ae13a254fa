// Package app wires the control loop, its producers and its observers from
// the service configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kilianp07/scm/config"
	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/events"
	"github.com/kilianp07/scm/core/history"
	coremetrics "github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/scm"
	"github.com/kilianp07/scm/core/trigger"
	"github.com/kilianp07/scm/infra/httpport"
	"github.com/kilianp07/scm/infra/logger"
	"github.com/kilianp07/scm/infra/metrics"
	"github.com/kilianp07/scm/internal/eventbus"

	// Reservation sources and profile mirrors register themselves.
	_ "github.com/kilianp07/scm/infra/kafka"
	_ "github.com/kilianp07/scm/infra/mqtt"
	_ "github.com/kilianp07/scm/infra/redis"
	_ "github.com/kilianp07/scm/infra/websocket"
)

// Service owns the event queue, the worker and every producer feeding it.
type Service struct {
	cfg      *config.Config
	queue    *queue.Queue
	worker   *scm.Worker
	bus      *eventbus.TypedBus[coremetrics.CycleRecord]
	timer    *trigger.Timer
	sources  []trigger.Source
	sink     coremetrics.MetricsSink
	store    history.Store
	mirrors  []scm.ProfilePublisher
	log      logger.Logger
	promAddr string
}

// New builds a Service from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	log := logger.New("service")
	s := &Service{cfg: cfg, log: log, promAddr: cfg.Metrics.PrometheusAddr}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				log.Warnf("cleanup after failed start: %v", cerr)
			}
		}
	}()

	alg, err := algorithm.New(cfg.SCM.Algorithm, algorithm.WithLogger(logger.New("algorithm")))
	if err != nil {
		return nil, fmt.Errorf("algorithm: %w", err)
	}
	port, err := httpport.New(cfg.Site, cfg.SCM.Horizon())
	if err != nil {
		return nil, fmt.Errorf("site port: %w", err)
	}
	s.mirrors, err = scm.NewMirrors(cfg.Mirrors)
	if err != nil {
		return nil, err
	}
	s.sources, err = trigger.NewSources(cfg.Reservations)
	if err != nil {
		return nil, err
	}
	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	s.store, err = history.Open(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	s.queue = queue.New(queue.WithDepthGauge(scm.QueueDepthGauge()))
	s.bus = eventbus.NewTyped[coremetrics.CycleRecord]()
	s.timer = trigger.NewTimer(cfg.SCM.TickInterval())
	s.worker, err = scm.NewWorker(cfg.SCM, scm.WithMirrors(port, s.mirrors...), alg, s.queue,
		scm.WithLogger(logger.New("scm")), scm.WithBus(s.bus))
	if err != nil {
		return nil, err
	}
	log.Infof("%s strategy, %d groups, %d reservation sources, %d mirrors",
		alg.Name(), len(cfg.SCM.Groups), len(s.sources), len(s.mirrors))
	return s, nil
}

// Worker exposes the control loop, mainly for its state.
func (s *Service) Worker() *scm.Worker { return s.worker }

// Run pushes the Start event and serves until ctx is done. Shutdown pushes
// Stop, lets the in-flight cycle finish, then stops producers and drains the
// observers.
func (s *Service) Run(ctx context.Context) error {
	// Observers outlive ctx so that the last cycles are still recorded.
	obsCtx, cancelObs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelObs()
	metricsDone := metrics.StartEventCollector(obsCtx, s.bus, s.sink, s.log)
	historyDone := history.StartRecorder(obsCtx, s.bus, s.store, s.cfg.SCM.Unit(), s.log)

	if err := s.queue.Push(events.Start()); err != nil {
		return err
	}

	prodCtx, cancelProd := context.WithCancel(ctx)
	defer cancelProd()
	var wg sync.WaitGroup
	for _, src := range append([]trigger.Source{s.timer}, s.sources...) {
		wg.Add(1)
		go func(src trigger.Source) {
			defer wg.Done()
			if err := src.Run(prodCtx, s.queue); err != nil && prodCtx.Err() == nil {
				s.log.Errorf("%s source stopped: %v", src.Name(), err)
			}
		}(src)
	}
	if s.promAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(prodCtx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	workerDone := make(chan error, 1)
	go func() { workerDone <- s.worker.Run(context.WithoutCancel(ctx)) }()

	var err error
	select {
	case <-ctx.Done():
		s.log.Infof("shutting down")
		if perr := s.queue.Push(events.Stop()); perr != nil {
			s.log.Warnf("push stop event: %v", perr)
		}
		s.queue.Close()
		err = <-workerDone
	case err = <-workerDone:
		s.queue.Close()
		if err == nil {
			err = errors.New("control loop exited unexpectedly")
		}
	}

	cancelProd()
	wg.Wait()
	s.bus.Close()
	<-metricsDone
	<-historyDone
	return err
}

// Close releases the history store, the mirrors and the metrics sink.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	for _, m := range s.mirrors {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("mirror %s: %w", m.Name(), err))
			}
		}
	}
	switch c := s.sink.(type) {
	case io.Closer:
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	case interface{ Close() }:
		c.Close()
	}
	return errors.Join(errs...)
}
