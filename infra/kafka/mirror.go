package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/scm"
)

func init() {
	_ = scm.RegisterMirror("kafka", func(conf map[string]any) (scm.ProfilePublisher, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewProfileMirror(cfg)
	})
}

// ProfileMirror writes every dispatched profile to the profile topic, keyed
// by session id so that updates of one session stay ordered.
type ProfileMirror struct {
	w     messageWriter
	topic string
}

// NewProfileMirror creates the writer. Kafka connections are opened lazily.
func NewProfileMirror(cfg Config) (*ProfileMirror, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProfileMirror{w: newWriter(cfg), topic: cfg.ProfileTopic}, nil
}

// Name implements scm.ProfilePublisher.
func (p *ProfileMirror) Name() string { return "kafka" }

// PublishProfiles implements scm.ProfilePublisher with one batched write.
func (p *ProfileMirror) PublishProfiles(ctx context.Context, group string, profiles []model.ChargingProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	now := time.Now()
	msgs := make([]kafka.Message, 0, len(profiles))
	for _, prof := range profiles {
		b, err := json.Marshal(model.NewProfileMessage(group, prof, now))
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(prof.SessionID),
			Value:   b,
			Headers: []kafka.Header{{Key: "group", Value: []byte(group)}},
			Time:    now,
		})
	}
	return p.w.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the writer.
func (p *ProfileMirror) Close() error { return p.w.Close() }
