package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// SessionStatus tells whether a session is plugged in or only reserved.
type SessionStatus int

const (
	// StatusActive marks a vehicle currently plugged in and eligible for charging.
	StatusActive SessionStatus = iota
	// StatusFuture marks a confirmed reservation that has not arrived yet.
	StatusFuture
)

// String returns a human-readable representation of the status.
func (s SessionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFuture:
		return "future"
	default:
		return "unknown"
	}
}

// ChargingRateUnit is the unit a power value is expressed in. The values match
// the OCPP chargingRateUnit names.
type ChargingRateUnit string

const (
	UnitW ChargingRateUnit = "W"
	UnitA ChargingRateUnit = "A"
)

// ParseUnit converts a textual unit. An empty string defaults to watts.
func ParseUnit(s string) (ChargingRateUnit, error) {
	switch s {
	case "", "W", "w":
		return UnitW, nil
	case "A", "a":
		return UnitA, nil
	default:
		return "", fmt.Errorf("unknown charging rate unit %q", s)
	}
}

// ErrMalformedSession is matched by every MalformedSessionError.
var ErrMalformedSession = errors.New("malformed session")

// MalformedSessionError reports a session violating one of its invariants.
type MalformedSessionError struct {
	SessionID string
	Reason    string
}

func (e *MalformedSessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("malformed session: %s", e.Reason)
	}
	return fmt.Sprintf("malformed session %s: %s", e.SessionID, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedSession) succeed.
func (e *MalformedSessionError) Is(target error) bool { return target == ErrMalformedSession }

// Session describes one vehicle charging engagement for a single recompute
// cycle. Power bounds are expressed in Unit; energy is in Wh.
type Session struct {
	ID              string
	StationID       string
	ConnectorID     int
	Status          SessionStatus
	MinPower        float64
	MaxPower        float64
	Arrival         time.Time
	Departure       time.Time
	EnergyRemaining float64
	Unit            ChargingRateUnit
	Voltage         float64
}

// NewSession builds a session and validates it.
func NewSession(s Session) (Session, error) {
	if s.Unit == "" {
		s.Unit = UnitW
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate checks the session invariants.
//
//gocyclo:ignore
func (s Session) Validate() error {
	bad := func(format string, args ...any) error {
		return &MalformedSessionError{SessionID: s.ID, Reason: fmt.Sprintf(format, args...)}
	}
	if s.ID == "" {
		return bad("session id is required")
	}
	if s.Status != StatusActive && s.Status != StatusFuture {
		return bad("unknown status %d", s.Status)
	}
	for name, v := range map[string]float64{"min_power": s.MinPower, "max_power": s.MaxPower, "energy": s.EnergyRemaining} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bad("%s is not a finite number", name)
		}
	}
	if s.MinPower < 0 {
		return bad("min_power %.3f is negative", s.MinPower)
	}
	if s.MinPower > s.MaxPower {
		return bad("min_power %.3f exceeds max_power %.3f", s.MinPower, s.MaxPower)
	}
	if s.EnergyRemaining < 0 {
		return bad("energy_remaining %.3f is negative", s.EnergyRemaining)
	}
	if s.Arrival.IsZero() || s.Departure.IsZero() {
		return bad("arrival and departure times are required")
	}
	if !s.Arrival.Before(s.Departure) {
		return bad("arrival %s is not before departure %s", s.Arrival.Format(time.RFC3339), s.Departure.Format(time.RFC3339))
	}
	switch s.Unit {
	case UnitW, "":
	case UnitA:
		if s.Voltage <= 0 {
			return bad("voltage must be positive for unit A")
		}
	default:
		return bad("unknown unit %q", s.Unit)
	}
	return nil
}

// IsActive reports whether the session is plugged in.
func (s Session) IsActive() bool { return s.Status == StatusActive }

func (s Session) toWatts(v float64) float64 {
	if s.Unit == UnitA {
		return v * s.Voltage
	}
	return v
}

// MinPowerW returns the minimum power in watts.
func (s Session) MinPowerW() float64 { return s.toWatts(s.MinPower) }

// MaxPowerW returns the maximum power in watts.
func (s Session) MaxPowerW() float64 { return s.toWatts(s.MaxPower) }

// ConvertPower converts a value in watts to the requested unit using the
// session voltage. Conversion to amps without a voltage returns the watt value.
func (s Session) ConvertPower(w float64, unit ChargingRateUnit) float64 {
	if unit == UnitA && s.Voltage > 0 {
		return w / s.Voltage
	}
	return w
}

// Eligible reports whether power may be scheduled in the step starting at
// stepStart. Active sessions are plugged in, so their window opens at the
// reference time at the latest.
func (s Session) Eligible(stepStart, reference time.Time) bool {
	arrival := s.Arrival
	if s.IsActive() && arrival.After(reference) {
		arrival = reference
	}
	return !stepStart.Before(arrival) && stepStart.Before(s.Departure)
}

// LessByUrgency orders sessions by departure time, then by id.
func LessByUrgency(a, b Session) bool {
	if !a.Departure.Equal(b.Departure) {
		return a.Departure.Before(b.Departure)
	}
	return LessID(a.ID, b.ID)
}

// LessID compares session identifiers numerically when both are integers and
// lexicographically otherwise.
func LessID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// ValidateSessions validates every session and checks identity uniqueness:
// session ids are unique and no two active sessions share a connector.
func ValidateSessions(sessions []Session) error {
	ids := make(map[string]struct{}, len(sessions))
	connectors := make(map[string]string, len(sessions))
	for _, s := range sessions {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := ids[s.ID]; dup {
			return &MalformedSessionError{SessionID: s.ID, Reason: "duplicate session id"}
		}
		ids[s.ID] = struct{}{}
		if !s.IsActive() || s.StationID == "" {
			continue
		}
		key := fmt.Sprintf("%s/%d", s.StationID, s.ConnectorID)
		if other, ok := connectors[key]; ok {
			return &MalformedSessionError{SessionID: s.ID, Reason: fmt.Sprintf("connector %s already used by active session %s", key, other)}
		}
		connectors[key] = s.ID
	}
	return nil
}

// SplitByStatus returns the active and future sessions preserving order.
func SplitByStatus(sessions []Session) (active, future []Session) {
	for _, s := range sessions {
		if s.IsActive() {
			active = append(active, s)
		} else {
			future = append(future, s)
		}
	}
	return active, future
}
