package algorithm

import (
	"math"

	"github.com/kilianp07/scm/core/model"
)

// GreedyAlgorithm allocates step by step, earliest deadline first. Each
// eligible session receives min(max_power, remaining/Δt, available); a grant
// below min_power is raised to min_power when the step still has room and
// dropped otherwise. Future sessions take their share of the budget at the
// steps they are expected to be plugged in.
type GreedyAlgorithm struct{}

// NewGreedyAlgorithm returns the heuristic strategy.
func NewGreedyAlgorithm() GreedyAlgorithm { return GreedyAlgorithm{} }

// Name implements Algorithm.
func (GreedyAlgorithm) Name() string { return "greedy" }

// Solve implements Algorithm.
func (g GreedyAlgorithm) Solve(sessions []model.Session, budget model.BudgetCurve, cfg HorizonConfig) (model.Allocation, error) {
	p, err := newProblem(sessions, budget, cfg)
	if err != nil {
		return model.Allocation{}, err
	}
	power := p.zeros()
	remaining := append([]float64(nil), p.energy...)
	for t := 0; t < p.steps; t++ {
		available := p.budget[t]
		for i := range p.sessions {
			if !p.eligible[i][t] || remaining[i] <= 0 || available <= 0 {
				continue
			}
			grant := math.Min(p.maxW[i], math.Min(remaining[i]/p.dt, available))
			if grant < p.minW[i] {
				if p.minW[i] > available {
					continue
				}
				grant = p.minW[i]
			}
			if grant <= 0 {
				continue
			}
			power[i][t] = grant
			available -= grant
			remaining[i] = math.Max(0, remaining[i]-grant*p.dt)
		}
	}
	return p.finalize(power), nil
}
