package scm

import (
	"fmt"
	"time"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/model"
)

// Config holds the control loop settings.
type Config struct {
	// Groups lists the site groups recomputed on every event.
	Groups []string `json:"groups"`
	// HorizonSteps is the number of planning steps H.
	HorizonSteps int `json:"horizon_steps"`
	// StepMinutes is the width of one planning step.
	StepMinutes int `json:"step_minutes"`
	// TickSeconds is the timer period, one step when zero.
	TickSeconds int `json:"tick_seconds"`
	// DefaultVoltage applies to sessions the site reports without voltage.
	DefaultVoltage float64 `json:"default_voltage"`
	// OutputUnit is the unit of the published profiles, "W" or "A".
	OutputUnit string `json:"output_unit"`
	// CallTimeoutSeconds bounds every site call.
	CallTimeoutSeconds int                  `json:"call_timeout_seconds"`
	Algorithm          factory.ModuleConfig `json:"algorithm"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if len(c.Groups) == 0 {
		c.Groups = []string{"default"}
	}
	if c.HorizonSteps == 0 {
		c.HorizonSteps = 24
	}
	if c.StepMinutes == 0 {
		c.StepMinutes = 15
	}
	if c.TickSeconds == 0 {
		c.TickSeconds = c.StepMinutes * 60
	}
	if c.DefaultVoltage == 0 {
		c.DefaultVoltage = 230
	}
	if c.OutputUnit == "" {
		c.OutputUnit = string(model.UnitW)
	}
	if c.CallTimeoutSeconds == 0 {
		c.CallTimeoutSeconds = 10
	}
	if c.Algorithm.Type == "" {
		c.Algorithm.Type = "lp"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("at least one group is required")
	}
	seen := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if g == "" {
			return fmt.Errorf("group name cannot be empty")
		}
		if _, dup := seen[g]; dup {
			return fmt.Errorf("duplicate group %s", g)
		}
		seen[g] = struct{}{}
	}
	if err := c.Horizon().Validate(); err != nil {
		return err
	}
	if c.TickSeconds < 0 {
		return fmt.Errorf("tick_seconds must be positive")
	}
	if c.DefaultVoltage <= 0 {
		return fmt.Errorf("default_voltage must be positive")
	}
	if _, err := model.ParseUnit(c.OutputUnit); err != nil {
		return err
	}
	if c.CallTimeoutSeconds < 0 {
		return fmt.Errorf("call_timeout_seconds must be positive")
	}
	return nil
}

// Horizon returns the planning grid.
func (c Config) Horizon() algorithm.HorizonConfig {
	return algorithm.HorizonConfig{Steps: c.HorizonSteps, StepWidth: time.Duration(c.StepMinutes) * time.Minute}
}

// TickInterval returns the timer period.
func (c Config) TickInterval() time.Duration {
	if c.TickSeconds <= 0 {
		return c.Horizon().StepWidth
	}
	return time.Duration(c.TickSeconds) * time.Second
}

// CallTimeout returns the per call deadline, 0 for none.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Unit returns the parsed output unit, watts when unset or invalid.
func (c Config) Unit() model.ChargingRateUnit {
	u, err := model.ParseUnit(c.OutputUnit)
	if err != nil {
		return model.UnitW
	}
	return u
}
