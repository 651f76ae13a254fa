package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedBudget indicates a power budget curve breaking its invariants.
var ErrMalformedBudget = errors.New("malformed power budget")

// BudgetCurve is the site-wide power cap in watts for each planning step.
// Values[t] applies to [Start+t*Step, Start+(t+1)*Step).
type BudgetCurve struct {
	Start  time.Time
	Step   time.Duration
	Values []float64
}

// Validate checks the curve has exactly steps non-negative values.
func (b BudgetCurve) Validate(steps int) error {
	if len(b.Values) != steps {
		return fmt.Errorf("%w: got %d values, want %d", ErrMalformedBudget, len(b.Values), steps)
	}
	if b.Step <= 0 {
		return fmt.Errorf("%w: step width must be positive", ErrMalformedBudget)
	}
	for i, v := range b.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: value %v at step %d", ErrMalformedBudget, v, i)
		}
	}
	return nil
}

// StepStart returns the start time of step t.
func (b BudgetCurve) StepStart(t int) time.Time {
	return b.Start.Add(time.Duration(t) * b.Step)
}

// Empty reports whether the curve carries no data.
func (b BudgetCurve) Empty() bool { return len(b.Values) == 0 }
