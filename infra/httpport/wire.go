package httpport

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/kilianp07/scm/core/model"
)

// ID accepts both JSON strings and numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// SessionDTO is one session as served by the site API. Powers are in Unit,
// energy in Wh.
type SessionDTO struct {
	EVID          ID        `json:"ev_id"`
	StationID     ID        `json:"station_id"`
	ConnectorID   int       `json:"connector_id"`
	MinPower      float64   `json:"min_power"`
	MaxPower      float64   `json:"max_power"`
	ArrivalTime   time.Time `json:"arrival_time"`
	DepartureTime time.Time `json:"departure_time"`
	EnergyNeeded  float64   `json:"energy_needed"`
	Unit          string    `json:"unit,omitempty"`
}

// Session converts the DTO. Invalid units are kept so that validation in the
// control loop reports them.
func (d SessionDTO) Session(status model.SessionStatus, voltage float64) model.Session {
	unit := model.ChargingRateUnit(d.Unit)
	if u, err := model.ParseUnit(d.Unit); err == nil {
		unit = u
	}
	return model.Session{
		ID:              string(d.EVID),
		StationID:       string(d.StationID),
		ConnectorID:     d.ConnectorID,
		Status:          status,
		MinPower:        d.MinPower,
		MaxPower:        d.MaxPower,
		Arrival:         d.ArrivalTime,
		Departure:       d.DepartureTime,
		EnergyRemaining: d.EnergyNeeded,
		Unit:            unit,
		Voltage:         voltage,
	}
}

// ActiveResponse is the body of GET /evs.
type ActiveResponse struct {
	EVs     []SessionDTO `json:"evs"`
	Voltage *float64     `json:"voltage"`
}

// FutureResponse is the body of GET /future_evs.
type FutureResponse struct {
	EVs     []SessionDTO `json:"future_evs"`
	Voltage *float64     `json:"voltage"`
}

// PowersRequest is the body of POST /powers.
type PowersRequest struct {
	Powers map[string]model.ChargingProfile `json:"powers"`
	Unit   model.ChargingRateUnit           `json:"unit"`
}

// BudgetResponse is the body of GET /peak_power_demand: power values keyed by
// RFC 3339 timestamps.
type BudgetResponse map[string]float64

func formatVoltage(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
