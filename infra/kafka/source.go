package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/trigger"
	"github.com/kilianp07/scm/infra/logger"
)

func init() {
	_ = trigger.RegisterSource("kafka", func(conf map[string]any) (trigger.Source, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewReservationSource(cfg)
	})
}

// ReservationSource forwards every record of the reservation topic. The
// record key, or the topic when the key is empty, becomes the event detail.
type ReservationSource struct {
	cfg     Config
	backoff trigger.Backoff
	log     logger.Logger
}

// NewReservationSource validates cfg. The reader is created by Run.
func NewReservationSource(cfg Config) (*ReservationSource, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ReservationSource{
		cfg:     cfg,
		backoff: trigger.Backoff{Min: time.Duration(cfg.BackoffMS) * time.Millisecond},
		log:     logger.New("kafka_source"),
	}, nil
}

// Name implements trigger.Source.
func (s *ReservationSource) Name() string { return "kafka" }

// Run implements trigger.Source.
func (s *ReservationSource) Run(ctx context.Context, q queue.Enqueuer) error {
	return trigger.RunWithReconnect(ctx, s.log, &s.backoff, func(ctx context.Context) error {
		return s.session(ctx, q)
	})
}

func (s *ReservationSource) session(ctx context.Context, q queue.Enqueuer) error {
	r := newReader(s.cfg)
	defer func() { _ = r.Close() }()
	s.log.Infof("consuming reservations from %s as %s", s.cfg.Topic, s.cfg.GroupID)
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.cfg.Topic, err)
		}
		s.backoff.Reset()
		detail := string(msg.Key)
		if detail == "" {
			detail = msg.Topic
		}
		if err := trigger.Notify(q, s.Name(), detail); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			return fmt.Errorf("enqueue: %w", err)
		}
	}
}
