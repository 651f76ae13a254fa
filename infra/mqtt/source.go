package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/trigger"
	"github.com/kilianp07/scm/infra/logger"
)

func init() {
	_ = trigger.RegisterSource("mqtt", func(conf map[string]any) (trigger.Source, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewReservationSource(cfg)
	})
}

// ReservationSource turns every message received on the reservation topic
// into a ReservationChanged event carrying the topic as detail.
type ReservationSource struct {
	cfg     Config
	backoff trigger.Backoff
	logger  logger.Logger
}

// NewReservationSource validates cfg. The connection is opened by Run.
func NewReservationSource(cfg Config) (*ReservationSource, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ReservationSource{
		cfg:     cfg,
		backoff: trigger.Backoff{Min: cfg.backoff()},
		logger:  logger.New("mqtt_source"),
	}, nil
}

// Name implements trigger.Source.
func (s *ReservationSource) Name() string { return "mqtt" }

// Run implements trigger.Source.
func (s *ReservationSource) Run(ctx context.Context, q queue.Enqueuer) error {
	return trigger.RunWithReconnect(ctx, s.logger, &s.backoff, func(ctx context.Context) error {
		return s.session(ctx, q)
	})
}

func (s *ReservationSource) session(ctx context.Context, q queue.Enqueuer) error {
	opts, err := NewClientOptions(s.cfg)
	if err != nil {
		return err
	}
	opts.AutoReconnect = false
	lost := make(chan error, 1)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	defer c.Disconnect(250)

	closed := make(chan struct{})
	var once sync.Once
	handler := func(_ paho.Client, msg paho.Message) {
		if err := trigger.Notify(q, s.Name(), msg.Topic()); errors.Is(err, queue.ErrClosed) {
			once.Do(func() { close(closed) })
		}
	}
	if token := c.Subscribe(s.cfg.ReservationTopic, s.cfg.qos("reservation"), handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.ReservationTopic, token.Error())
	}
	s.backoff.Reset()
	s.logger.Infof("listening for reservations on %s", s.cfg.ReservationTopic)

	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		return queue.ErrClosed
	case err := <-lost:
		return fmt.Errorf("connection lost: %w", err)
	}
}
