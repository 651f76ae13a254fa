package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/scm"
	"github.com/kilianp07/scm/infra/logger"
)

func init() {
	_ = scm.RegisterMirror("mqtt", func(conf map[string]any) (scm.ProfilePublisher, error) {
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewProfileMirror(cfg)
	})
}

// ProfileMirror publishes charging profiles to the broker, one retained
// message per connector.
type ProfileMirror struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger
}

// NewProfileMirror connects to the MQTT broker.
func NewProfileMirror(cfg Config) (*ProfileMirror, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_mirror")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &ProfileMirror{cli: c, cfg: cfg, logger: log}, nil
}

// Name implements scm.ProfilePublisher.
func (p *ProfileMirror) Name() string { return "mqtt" }

// Topic returns the topic of a profile.
func (p *ProfileMirror) Topic(profile model.ChargingProfile) string {
	return fmt.Sprintf("%s/%s/%d/profile", p.cfg.TopicPrefix, profile.StationID, profile.ConnectorID)
}

// PublishProfiles implements scm.ProfilePublisher. Every profile is attempted
// even when an earlier one fails.
func (p *ProfileMirror) PublishProfiles(ctx context.Context, group string, profiles []model.ChargingProfile) error {
	var errs []error
	for _, prof := range profiles {
		if err := p.publish(ctx, group, prof); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", prof.SessionID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *ProfileMirror) publish(ctx context.Context, group string, prof model.ChargingProfile) error {
	payload, err := json.Marshal(model.NewProfileMessage(group, prof, time.Now()))
	if err != nil {
		return err
	}
	topic := p.Topic(prof)
	qos := p.cfg.qos("profile")
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, true, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("sent profile for session %s to %s", prof.SessionID, topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.backoff() * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *ProfileMirror) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}

// Close implements io.Closer.
func (p *ProfileMirror) Close() error {
	p.Disconnect()
	return nil
}
