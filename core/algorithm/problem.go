package algorithm

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/scm/core/model"
)

// problem is the validated, strategy-independent view of one solve. Sessions
// are ordered by urgency and carry their bounds in watts.
type problem struct {
	ref      time.Time
	steps    int
	step     time.Duration
	dt       float64
	budget   []float64
	sessions []model.Session
	minW     []float64
	maxW     []float64
	energy   []float64
	eligible [][]bool
}

func newProblem(sessions []model.Session, budget model.BudgetCurve, cfg HorizonConfig) (*problem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := budget.Validate(cfg.Steps); err != nil {
		return nil, err
	}
	if budget.Step != cfg.StepWidth {
		return nil, fmt.Errorf("%w: step %s does not match horizon step %s", model.ErrMalformedBudget, budget.Step, cfg.StepWidth)
	}
	if err := model.ValidateSessions(sessions); err != nil {
		return nil, err
	}

	ordered := append([]model.Session(nil), sessions...)
	sort.SliceStable(ordered, func(i, j int) bool { return model.LessByUrgency(ordered[i], ordered[j]) })

	p := &problem{
		ref:      budget.Start,
		steps:    cfg.Steps,
		step:     cfg.StepWidth,
		dt:       cfg.StepHours(),
		budget:   append([]float64(nil), budget.Values...),
		sessions: ordered,
		minW:     make([]float64, len(ordered)),
		maxW:     make([]float64, len(ordered)),
		energy:   make([]float64, len(ordered)),
		eligible: make([][]bool, len(ordered)),
	}
	for i, s := range ordered {
		p.minW[i] = s.MinPowerW()
		p.maxW[i] = s.MaxPowerW()
		p.energy[i] = s.EnergyRemaining
		p.eligible[i] = make([]bool, cfg.Steps)
		for t := 0; t < cfg.Steps; t++ {
			p.eligible[i][t] = s.Eligible(budget.StepStart(t), p.ref)
		}
	}
	return p, nil
}

// hoursToDeparture is clamped at zero for sessions already past departure.
func (p *problem) hoursToDeparture(i int) float64 {
	return math.Max(0, p.sessions[i].Departure.Sub(p.ref).Hours())
}

// weight is the objective coefficient of one watt-hour delivered to session i
// at step t. Sessions are indexed in urgency order.
func (p *problem) weight(i, t int) float64 {
	n := float64(len(p.sessions))
	w := 1 + 1/(1+p.hoursToDeparture(i)) + 1e-3*(n-float64(i))/n
	tau := 1 + 1e-3*float64(p.steps-t)/float64(p.steps)
	return w * tau
}

// score is the weighted energy of a schedule.
func (p *problem) score(power [][]float64) float64 {
	var sum float64
	for i := range power {
		for t, v := range power[i] {
			sum += p.weight(i, t) * v * p.dt
		}
	}
	return sum
}

func (p *problem) zeros() [][]float64 {
	out := make([][]float64, len(p.sessions))
	for i := range out {
		out[i] = make([]float64, p.steps)
	}
	return out
}

func (p *problem) delivered(power [][]float64, i int) float64 {
	var e float64
	for _, v := range power[i] {
		e += v * p.dt
	}
	return e
}

func (p *problem) stepTotal(power [][]float64, t int) float64 {
	var sum float64
	for i := range power {
		sum += power[i][t]
	}
	return sum
}

const (
	trimTol   = 1e-9
	verifyTol = 1e-6
)

// tolerance scales an absolute tolerance with the magnitude of v.
func tolerance(v, tol float64) float64 {
	return tol * math.Max(1, math.Abs(v))
}

// finalize enforces the hard constraints on a raw solution and builds the
// allocation of the active sessions.
func (p *problem) finalize(power [][]float64) model.Allocation {
	for i := range power {
		for t := range power[i] {
			v := power[i][t]
			if !p.eligible[i][t] || math.IsNaN(v) || v <= 0 {
				v = 0
			}
			power[i][t] = math.Min(v, p.maxW[i])
		}
	}
	p.repairMinimum(power)
	p.trimCapacity(power)
	return p.allocation(power)
}

// rounded returns a copy of power with every value inside (0, min_power)
// repaired. The copy satisfies the hard constraints and the energy caps.
func (p *problem) rounded(power [][]float64) [][]float64 {
	out := make([][]float64, len(power))
	for i := range power {
		out[i] = append([]float64(nil), power[i]...)
	}
	p.repairMinimum(out)
	p.trimCapacity(out)
	return out
}

// repairMinimum removes values inside (0, min_power). Each removed grant is
// restored at min_power, most urgent first, when the step still has room and
// the session still owes at least a full step at min_power.
func (p *problem) repairMinimum(power [][]float64) {
	for t := 0; t < p.steps; t++ {
		var cut []int
		for i := range power {
			if v := power[i][t]; v > 0 && v < p.minW[i] {
				power[i][t] = 0
				cut = append(cut, i)
			}
		}
		for _, i := range cut {
			slack := p.budget[t] - p.stepTotal(power, t)
			owed := p.energy[i] - p.delivered(power, i)
			if slack >= p.minW[i] && owed >= p.minW[i]*p.dt-tolerance(p.energy[i], trimTol) {
				power[i][t] = p.minW[i]
			}
		}
	}
}

// trimCapacity removes numeric overshoot from the least urgent sessions.
func (p *problem) trimCapacity(power [][]float64) {
	for t := 0; t < p.steps; t++ {
		for i := len(power) - 1; i >= 0; i-- {
			excess := p.stepTotal(power, t) - p.budget[t]
			if excess <= tolerance(p.budget[t], trimTol) {
				break
			}
			if power[i][t] == 0 {
				continue
			}
			v := power[i][t] - excess
			if v < p.minW[i] || v <= 0 {
				v = 0
			}
			power[i][t] = v
		}
	}
}

func (p *problem) allocation(power [][]float64) model.Allocation {
	budget := model.BudgetCurve{Start: p.ref, Step: p.step, Values: p.budget}
	alloc := model.NewAllocation(p.sessions, budget)
	index := make(map[string]int, len(p.sessions))
	for i, s := range p.sessions {
		index[s.ID] = i
	}
	for k := range alloc.Entries {
		copy(alloc.Entries[k].Power, power[index[alloc.Entries[k].Session.ID]])
	}
	return alloc
}
