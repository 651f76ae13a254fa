// Package kafka wires the control loop to Kafka: a reader group consuming
// reservation notifications and a writer mirroring dispatched profiles keyed
// by session id.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config defines the brokers and topics.
type Config struct {
	Brokers []string `json:"brokers"`
	// Topic carries reservation notifications.
	Topic   string `json:"topic"`
	GroupID string `json:"group_id"`
	// ProfileTopic receives the mirrored charging profiles.
	ProfileTopic string `json:"profile_topic"`
	BackoffMS    int    `json:"backoff_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "scm.reservations"
	}
	if c.GroupID == "" {
		c.GroupID = "scm"
	}
	if c.ProfileTopic == "" {
		c.ProfileTopic = "scm.profiles"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	return nil
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var newReader = func(cfg Config) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

var newWriter = func(cfg Config) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ProfileTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}
