package model

import (
	"time"

	"github.com/google/uuid"
)

// ProfileMessage is the envelope used when a charging profile is mirrored on
// a message bus.
type ProfileMessage struct {
	MessageID string          `json:"message_id"`
	Group     string          `json:"group"`
	Profile   ChargingProfile `json:"profile"`
	Timestamp int64           `json:"timestamp"`
}

// NewProfileMessage wraps profile with a fresh message id.
func NewProfileMessage(group string, profile ChargingProfile, at time.Time) ProfileMessage {
	return ProfileMessage{
		MessageID: uuid.NewString(),
		Group:     group,
		Profile:   profile,
		Timestamp: at.UnixMilli(),
	}
}
