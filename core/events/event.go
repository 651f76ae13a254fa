package events

import (
	"fmt"
	"time"
)

// Kind identifies why a recompute was requested.
type Kind int

const (
	KindStart Kind = iota
	KindTick
	KindReservationChanged
	KindStop
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindTick:
		return "tick"
	case KindReservationChanged:
		return "reservation_changed"
	case KindStop:
		return "stop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one trigger pushed on the queue. Source names the producer and
// Detail carries the raw notification when there is one.
type Event struct {
	Kind   Kind
	Source string
	Detail string
	At     time.Time
}

// New returns an event stamped with the current time.
func New(kind Kind, source string) Event {
	return Event{Kind: kind, Source: source, At: time.Now()}
}

// Start is pushed once when the service boots.
func Start() Event { return New(KindStart, "service") }

// Stop is the terminal sentinel.
func Stop() Event { return New(KindStop, "service") }

// Tick is emitted by the timer.
func Tick() Event { return New(KindTick, "timer") }

// ReservationChanged is emitted by a reservation source.
func ReservationChanged(source, detail string) Event {
	e := New(KindReservationChanged, source)
	e.Detail = detail
	return e
}

// IsStop reports whether the event ends the control loop.
func (e Event) IsStop() bool { return e.Kind == KindStop }
