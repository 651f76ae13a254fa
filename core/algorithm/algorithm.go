// Package algorithm turns a session snapshot and a power budget curve into a
// per-session power schedule. Two strategies share the Algorithm interface: an
// exact linear program solved with the gonum simplex and an
// earliest-deadline-first heuristic.
//
// Every strategy honours the same hard constraints:
//
//   - the summed power of the active sessions never exceeds the budget of a step;
//   - a session receives either 0 or a value within [min_power, max_power];
//   - no power is scheduled outside the session window [arrival, departure);
//   - only active sessions appear in the result.
//
// Future sessions take part in the planning so that capacity is kept for them
// but never receive a profile. Verify checks a result against these rules.
package algorithm

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/scm/core/model"
)

// HorizonConfig fixes the planning grid shared by the budget curve and the
// allocation profiles.
type HorizonConfig struct {
	Steps     int
	StepWidth time.Duration
}

// Validate checks the horizon is usable.
func (h HorizonConfig) Validate() error {
	if h.Steps <= 0 {
		return fmt.Errorf("horizon steps must be positive, got %d", h.Steps)
	}
	if h.StepWidth <= 0 {
		return fmt.Errorf("horizon step width must be positive, got %s", h.StepWidth)
	}
	return nil
}

// StepHours returns the width of one step in hours.
func (h HorizonConfig) StepHours() float64 { return h.StepWidth.Hours() }

// Algorithm computes an allocation. Implementations hold no state between
// calls and return the same allocation for identical inputs.
type Algorithm interface {
	Name() string
	Solve(sessions []model.Session, budget model.BudgetCurve, cfg HorizonConfig) (model.Allocation, error)
}

// ErrInfeasibleAllocation is matched by every InfeasibleAllocationError.
var ErrInfeasibleAllocation = errors.New("infeasible allocation")

// InfeasibleAllocationError reports that a strategy could not produce a valid
// allocation. All-zero is always feasible, so this points at a bug.
type InfeasibleAllocationError struct {
	Algorithm string
	Err       error
}

func (e *InfeasibleAllocationError) Error() string {
	return fmt.Sprintf("%s: infeasible allocation: %v", e.Algorithm, e.Err)
}

func (e *InfeasibleAllocationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInfeasibleAllocation) succeed.
func (e *InfeasibleAllocationError) Is(target error) bool { return target == ErrInfeasibleAllocation }
