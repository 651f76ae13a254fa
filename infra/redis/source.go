// Package redis listens for reservation notifications published on Redis
// pub/sub channels.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/trigger"
	"github.com/kilianp07/scm/infra/logger"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Config defines the Redis server and the channel pattern to follow.
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Channel   string `json:"channel"`
	BackoffMS int    `json:"backoff_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Channel == "" {
		c.Channel = "scm:reservations:*"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("redis: addr is empty")
	}
	return nil
}

func init() {
	_ = trigger.RegisterSource("redis", func(conf map[string]any) (trigger.Source, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewSource(cfg)
	})
}

type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// subscribe opens a pattern subscription and waits for the confirmation so
// that connection errors surface before the session starts.
var subscribe = func(ctx context.Context, cfg Config) (subscription, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})
	ps := client.PSubscribe(ctx, cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, nil, err
	}
	return ps, client.Close, nil
}

// Source forwards every message published on a matching channel; the
// channel name becomes the event detail.
type Source struct {
	cfg     Config
	backoff trigger.Backoff
	log     logger.Logger
}

// NewSource validates cfg. The subscription is opened by Run.
func NewSource(cfg Config) (*Source, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		cfg:     cfg,
		backoff: trigger.Backoff{Min: time.Duration(cfg.BackoffMS) * time.Millisecond},
		log:     logger.New("redis_source"),
	}, nil
}

// Name implements trigger.Source.
func (s *Source) Name() string { return "redis" }

// Run implements trigger.Source.
func (s *Source) Run(ctx context.Context, q queue.Enqueuer) error {
	return trigger.RunWithReconnect(ctx, s.log, &s.backoff, func(ctx context.Context) error {
		return s.session(ctx, q)
	})
}

func (s *Source) session(ctx context.Context, q queue.Enqueuer) error {
	sub, closeClient, err := subscribe(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Channel, err)
	}
	defer func() {
		_ = sub.Close()
		_ = closeClient()
	}()
	s.backoff.Reset()
	s.log.Infof("listening for reservations on %s", s.cfg.Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			if err := trigger.Notify(q, s.Name(), msg.Channel); err != nil {
				if errors.Is(err, queue.ErrClosed) {
					return err
				}
				return fmt.Errorf("enqueue: %w", err)
			}
		}
	}
}
