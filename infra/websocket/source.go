// Package websocket listens for reservation notifications pushed by the site
// over a websocket and forwards each message to the control loop.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/queue"
	"github.com/kilianp07/scm/core/trigger"
	"github.com/kilianp07/scm/infra/logger"
)

// maxDetail bounds the part of a message kept as event detail.
const maxDetail = 256

// Config defines the websocket endpoint.
type Config struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	BackoffMS   int               `json:"backoff_ms"`
	HandshakeMS int               `json:"handshake_ms"`
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("websocket url is required")
	}
	return nil
}

func init() {
	_ = trigger.RegisterSource("websocket", func(conf map[string]any) (trigger.Source, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewSource(cfg)
	})
}

// Source is a reservation source reading text frames from a websocket.
type Source struct {
	cfg     Config
	dialer  *websocket.Dialer
	backoff trigger.Backoff
	log     logger.Logger
}

// NewSource validates cfg. The connection is opened by Run.
func NewSource(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	handshake := 10 * time.Second
	if cfg.HandshakeMS > 0 {
		handshake = time.Duration(cfg.HandshakeMS) * time.Millisecond
	}
	return &Source{
		cfg:     cfg,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshake},
		backoff: trigger.Backoff{Min: time.Duration(cfg.BackoffMS) * time.Millisecond},
		log:     logger.New("websocket_source"),
	}, nil
}

// Name implements trigger.Source.
func (s *Source) Name() string { return "websocket" }

// Run implements trigger.Source.
func (s *Source) Run(ctx context.Context, q queue.Enqueuer) error {
	return trigger.RunWithReconnect(ctx, s.log, &s.backoff, func(ctx context.Context) error {
		return s.session(ctx, q)
	})
}

func (s *Source) session(ctx context.Context, q queue.Enqueuer) error {
	header := http.Header{}
	for k, v := range s.cfg.Headers {
		header.Set(k, v)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.backoff.Reset()
	s.log.Infof("connected to reservation feed %s", s.cfg.URL)

	// ReadMessage does not take a context; closing the connection is what
	// unblocks it on cancellation.
	var once sync.Once
	closeConn := func() { once.Do(func() { _ = conn.Close() }) }
	defer closeConn()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			closeConn()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Infof("reservation feed closed by peer")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		detail := string(msg)
		if len(detail) > maxDetail {
			detail = detail[:maxDetail]
		}
		s.log.Debugf("reservation message received: %s", detail)
		if err := trigger.Notify(q, s.Name(), detail); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			return fmt.Errorf("enqueue: %w", err)
		}
	}
}
