package scenarios

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/model"
)

// energyTol is the tolerance in Wh used when checking delivered energy.
const energyTol = 1e-3

// Result is the outcome of running a scenario through one strategy.
type Result struct {
	Algorithm  string
	Allocation model.Allocation
	Delivered  map[string]float64
	Unmet      map[string]float64
	Err        error
}

// TotalUnmet sums the unmet energy of every active session.
func (r Result) TotalUnmet() float64 {
	var total float64
	for _, v := range r.Unmet {
		total += v
	}
	return total
}

// ErrorKind classifies Err as "", "malformed" or "infeasible".
func (r Result) ErrorKind() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, model.ErrMalformedSession), errors.Is(r.Err, model.ErrMalformedBudget):
		return "malformed"
	default:
		return "infeasible"
	}
}

// Run validates the scenario input, solves it with alg and verifies the
// allocation against the hard constraints.
func Run(sc *Scenario, alg algorithm.Algorithm) Result {
	res := Result{Algorithm: alg.Name()}
	sessions, err := sc.SessionModels()
	if err != nil {
		res.Err = &model.MalformedSessionError{Reason: err.Error()}
		return res
	}
	if err := model.ValidateSessions(sessions); err != nil {
		res.Err = err
		return res
	}
	budget := sc.BudgetCurve()
	horizon := sc.Horizon()
	alloc, err := alg.Solve(sessions, budget, horizon)
	if err != nil {
		res.Err = err
		return res
	}
	if err := algorithm.Verify(sessions, budget, horizon, alloc); err != nil {
		res.Err = &algorithm.InfeasibleAllocationError{Algorithm: alg.Name(), Err: err}
		return res
	}
	res.Allocation = alloc
	res.Unmet = algorithm.UnmetEnergy(sessions, alloc, horizon)
	res.Delivered = make(map[string]float64, len(alloc.Entries))
	for _, e := range alloc.Entries {
		res.Delivered[e.Session.ID] = alloc.Energy(e.Session.ID)
	}
	return res
}

// Applies reports whether the expectations cover the named strategy.
func (e Expected) Applies(name string) bool {
	return len(e.Algorithms) == 0 || slices.Contains(e.Algorithms, name)
}

// Check compares a result with the scenario expectations and returns one
// message per mismatch, sorted.
func Check(sc *Scenario, res Result) []string {
	exp := sc.Expected
	var out []string
	if kind := res.ErrorKind(); kind != exp.Error {
		out = append(out, fmt.Sprintf("error: got %q (%v), want %q", kind, res.Err, exp.Error))
		return out
	}
	if res.Err != nil {
		return nil
	}
	for id, want := range exp.Delivered {
		if got := res.Delivered[id]; got < want-energyTol {
			out = append(out, fmt.Sprintf("session %s: delivered %.3f Wh, want at least %.3f", id, got, want))
		}
	}
	if exp.MaxUnmet != nil && *exp.MaxUnmet >= 0 {
		if got := res.TotalUnmet(); got > *exp.MaxUnmet+energyTol {
			out = append(out, fmt.Sprintf("unmet %.3f Wh, want at most %.3f", got, *exp.MaxUnmet))
		}
	}
	for _, id := range exp.Idle {
		for t, v := range res.Allocation.Power(id) {
			if math.Abs(v) > 1e-9 {
				out = append(out, fmt.Sprintf("session %s: power %.3f at step %d, want idle", id, v, t))
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
