package algorithm

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/scm/core/model"
)

// ErrConstraintViolation is wrapped by every error returned from Verify.
var ErrConstraintViolation = errors.New("allocation constraint violated")

// maxViolations bounds the size of the error joined by Verify.
const maxViolations = 20

// Verify checks an allocation against the hard constraints: step capacity,
// per-session bounds, window containment and active-only dispatch. It returns
// nil or the joined list of violations.
//
//gocyclo:ignore
func Verify(sessions []model.Session, budget model.BudgetCurve, cfg HorizonConfig, alloc model.Allocation) error {
	var errs []error
	violate := func(format string, args ...any) {
		if len(errs) < maxViolations {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConstraintViolation}, args...)...))
		}
	}
	if len(budget.Values) != cfg.Steps {
		violate("budget has %d values for %d steps", len(budget.Values), cfg.Steps)
		return errors.Join(errs...)
	}

	known := make(map[string]model.Session, len(sessions))
	for _, s := range sessions {
		known[s.ID] = s
	}
	seen := make(map[string]struct{}, len(alloc.Entries))
	for _, e := range alloc.Entries {
		s, ok := known[e.Session.ID]
		switch {
		case !ok:
			violate("session %s is not part of the snapshot", e.Session.ID)
			continue
		case !s.IsActive():
			violate("future session %s received a profile", s.ID)
			continue
		}
		if _, dup := seen[s.ID]; dup {
			violate("session %s has more than one profile", s.ID)
		}
		seen[s.ID] = struct{}{}
		if len(e.Power) != cfg.Steps {
			violate("session %s profile has %d values for %d steps", s.ID, len(e.Power), cfg.Steps)
			continue
		}
		minW, maxW := s.MinPowerW(), s.MaxPowerW()
		for t, v := range e.Power {
			switch {
			case math.IsNaN(v) || math.IsInf(v, 0) || v < 0:
				violate("session %s step %d: invalid power %v", s.ID, t, v)
			case v == 0:
			case !s.Eligible(budget.StepStart(t), budget.Start):
				violate("session %s step %d: power %.3f outside window", s.ID, t, v)
			case v < minW-tolerance(minW, verifyTol) || v > maxW+tolerance(maxW, verifyTol):
				violate("session %s step %d: power %.3f outside [%.3f, %.3f]", s.ID, t, v, minW, maxW)
			}
		}
	}

	for t := 0; t < cfg.Steps; t++ {
		if total := alloc.StepTotal(t); total > budget.Values[t]+tolerance(budget.Values[t], verifyTol) {
			violate("step %d: total %.3f exceeds budget %.3f", t, total, budget.Values[t])
		}
	}
	return errors.Join(errs...)
}

// UnmetEnergy returns, for every active session, the energy in Wh the
// allocation leaves undelivered.
func UnmetEnergy(sessions []model.Session, alloc model.Allocation, cfg HorizonConfig) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range sessions {
		if !s.IsActive() {
			continue
		}
		var delivered float64
		for _, v := range alloc.Power(s.ID) {
			delivered += v * cfg.StepHours()
		}
		out[s.ID] = math.Max(0, s.EnergyRemaining-delivered)
	}
	return out
}
