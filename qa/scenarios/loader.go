// Package scenarios loads offline allocation scenarios from YAML and runs
// them through an allocation strategy.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/model"
)

// SessionDef describes one session. Arrival and departure are offsets in
// minutes from the scenario reference.
type SessionDef struct {
	ID          string  `yaml:"id"`
	StationID   string  `yaml:"station_id"`
	ConnectorID int     `yaml:"connector_id"`
	Status      string  `yaml:"status"`
	MinPower    float64 `yaml:"min_power"`
	MaxPower    float64 `yaml:"max_power"`
	ArriveMin   int     `yaml:"arrive_min"`
	DepartMin   int     `yaml:"depart_min"`
	EnergyWh    float64 `yaml:"energy_wh"`
	Unit        string  `yaml:"unit,omitempty"`
	Voltage     float64 `yaml:"voltage,omitempty"`
}

// ToModel converts the definition relative to reference.
func (d SessionDef) ToModel(reference time.Time, defaultVoltage float64) (model.Session, error) {
	status, err := parseStatus(d.Status)
	if err != nil {
		return model.Session{}, fmt.Errorf("session %s: %w", d.ID, err)
	}
	unit, err := model.ParseUnit(d.Unit)
	if err != nil {
		return model.Session{}, fmt.Errorf("session %s: %w", d.ID, err)
	}
	v := d.Voltage
	if v == 0 {
		v = defaultVoltage
	}
	return model.Session{
		ID:              d.ID,
		StationID:       d.StationID,
		ConnectorID:     d.ConnectorID,
		Status:          status,
		MinPower:        d.MinPower,
		MaxPower:        d.MaxPower,
		Arrival:         reference.Add(time.Duration(d.ArriveMin) * time.Minute),
		Departure:       reference.Add(time.Duration(d.DepartMin) * time.Minute),
		EnergyRemaining: d.EnergyWh,
		Unit:            unit,
		Voltage:         v,
	}, nil
}

// Expected holds the checks applied to a run.
type Expected struct {
	// Error names the expected failure: "", "malformed" or "infeasible".
	Error string `yaml:"error,omitempty"`
	// Delivered is the minimum energy in Wh per session.
	Delivered map[string]float64 `yaml:"delivered_wh,omitempty"`
	// MaxUnmet bounds the total unmet energy in Wh; negative disables it.
	MaxUnmet *float64 `yaml:"max_unmet_wh,omitempty"`
	// Idle lists sessions that must receive an all-zero profile.
	Idle []string `yaml:"idle,omitempty"`
	// Algorithms restricts the expectations to some strategies.
	Algorithms []string `yaml:"algorithms,omitempty"`
}

// Scenario is one offline solve.
type Scenario struct {
	Name           string       `yaml:"name"`
	Description    string       `yaml:"description,omitempty"`
	Reference      time.Time    `yaml:"reference"`
	Steps          int          `yaml:"steps"`
	StepMinutes    int          `yaml:"step_minutes"`
	Budget         []float64    `yaml:"budget"`
	DefaultVoltage float64      `yaml:"default_voltage"`
	Sessions       []SessionDef `yaml:"sessions"`
	Expected       Expected     `yaml:"expected"`
}

// Load reads a scenario file and applies defaults.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	sc.setDefaults()
	return &sc, nil
}

func (sc *Scenario) setDefaults() {
	if sc.StepMinutes == 0 {
		sc.StepMinutes = 15
	}
	if sc.Steps == 0 {
		sc.Steps = len(sc.Budget)
	}
	if sc.DefaultVoltage == 0 {
		sc.DefaultVoltage = 230
	}
	if sc.Reference.IsZero() {
		sc.Reference = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	// A single budget value applies to the whole horizon.
	if len(sc.Budget) == 1 && sc.Steps > 1 {
		v := sc.Budget[0]
		sc.Budget = make([]float64, sc.Steps)
		for i := range sc.Budget {
			sc.Budget[i] = v
		}
	}
}

// Horizon returns the planning grid of the scenario.
func (sc *Scenario) Horizon() algorithm.HorizonConfig {
	return algorithm.HorizonConfig{Steps: sc.Steps, StepWidth: time.Duration(sc.StepMinutes) * time.Minute}
}

// BudgetCurve returns the scenario budget anchored at the reference.
func (sc *Scenario) BudgetCurve() model.BudgetCurve {
	return model.BudgetCurve{
		Start:  sc.Reference,
		Step:   time.Duration(sc.StepMinutes) * time.Minute,
		Values: append([]float64(nil), sc.Budget...),
	}
}

// SessionModels converts every session definition.
func (sc *Scenario) SessionModels() ([]model.Session, error) {
	out := make([]model.Session, 0, len(sc.Sessions))
	for _, d := range sc.Sessions {
		s, err := d.ToModel(sc.Reference, sc.DefaultVoltage)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseStatus(s string) (model.SessionStatus, error) {
	switch s {
	case "", "active":
		return model.StatusActive, nil
	case "future":
		return model.StatusFuture, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}
