package algorithm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/scm/core/logger"
	"github.com/kilianp07/scm/core/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	// DefaultLPTolerance is the reduced cost threshold handed to the simplex.
	DefaultLPTolerance = 1e-9
	// DefaultMaxNodes bounds the branch and bound search of one solve.
	DefaultMaxNodes = 2000
	// DefaultMaxVariables is the problem size above which the greedy
	// strategy is used instead.
	DefaultMaxVariables = 240
)

// switchTol decides when a relaxed power counts as 0 or as min_power.
const switchTol = 1e-7

// LPAlgorithm solves the allocation as a mixed integer program over one
// power variable per eligible (session, step) pair, future sessions included.
// It maximises
//
//	Σ w(s)·τ(t)·p(s,t)·Δt
//
// subject to p(s,t) ∈ {0} ∪ [min_power, max_power], Σ_s p(s,t) ≤ budget[t]
// and Σ_t p(s,t)·Δt ≤ energy_remaining(s). The session weight
//
//	w(s) = 1 + 1/(1 + hours_to_departure) + 1e-3·(n-rank)/n
//
// favours urgent sessions and breaks ties by urgency rank. The step weight
// τ(t) = 1 + 1e-3·(H-t)/H prefers early delivery.
//
// The on/off choice of every pair with a positive minimum is settled by
// depth-first branch and bound. Each node solves the linear relaxation with
// the gonum simplex, a switched-off pair loses its column and a switched-on
// pair is shifted by min_power. Nodes whose relaxation cannot beat the best
// schedule found so far are pruned.
type LPAlgorithm struct {
	Tolerance float64
	// MaxNodes stops the search early; the best schedule found is returned.
	MaxNodes int
	// MaxVariables hands larger problems to the greedy strategy. Zero
	// disables the limit.
	MaxVariables int
	Log          logger.Logger
}

// NewLPAlgorithm returns the exact strategy with the default limits.
func NewLPAlgorithm() LPAlgorithm {
	return LPAlgorithm{
		Tolerance:    DefaultLPTolerance,
		MaxNodes:     DefaultMaxNodes,
		MaxVariables: DefaultMaxVariables,
	}
}

// Name implements Algorithm.
func (LPAlgorithm) Name() string { return "lp" }

func (a LPAlgorithm) logger() logger.Logger {
	if a.Log == nil {
		return logger.NopLogger{}
	}
	return a.Log
}

type lpVar struct {
	session int
	step    int
}

// lpSolve points to the function used to solve the standard form program. It
// can be overridden in tests to simulate solver failures.
var lpSolve = solveStandard

func solveStandard(c []float64, A mat.Matrix, b []float64, tol float64, basis []int) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex panic: %v", r)
		}
	}()
	_, x, err = lp.Simplex(c, A, b, tol, basis)
	return x, err
}

// Solve implements Algorithm.
func (a LPAlgorithm) Solve(sessions []model.Session, budget model.BudgetCurve, cfg HorizonConfig) (model.Allocation, error) {
	p, err := newProblem(sessions, budget, cfg)
	if err != nil {
		return model.Allocation{}, err
	}
	vars := a.variables(p)
	if a.MaxVariables > 0 && len(vars) > a.MaxVariables {
		a.logger().Warnf("lp: %d variables exceed max_variables %d, solving with greedy", len(vars), a.MaxVariables)
		return NewGreedyAlgorithm().Solve(sessions, budget, cfg)
	}
	power, err := a.search(p, vars)
	if err != nil {
		return model.Allocation{}, &InfeasibleAllocationError{Algorithm: a.Name(), Err: err}
	}
	return p.finalize(power), nil
}

// variables lists the pairs worth a column: eligible steps with budget left
// for sessions that can and still need to charge.
func (a LPAlgorithm) variables(p *problem) []lpVar {
	var vars []lpVar
	for i := range p.sessions {
		if p.maxW[i] <= 0 || p.energy[i] <= 0 {
			continue
		}
		for t := 0; t < p.steps; t++ {
			if p.eligible[i][t] && p.budget[t] > 0 {
				vars = append(vars, lpVar{session: i, step: t})
			}
		}
	}
	return vars
}

type switchState int8

const (
	switchFree switchState = iota
	switchOff
	switchOn
)

// bnb holds the state of one branch and bound search.
type bnb struct {
	p         *problem
	vars      []lpVar
	tol       float64
	maxNodes  int
	nodes     int
	best      [][]float64
	bestScore float64
}

var errNodeLimit = errors.New("node limit reached")

func (a LPAlgorithm) search(p *problem, vars []lpVar) ([][]float64, error) {
	s := &bnb{p: p, vars: vars, tol: a.Tolerance, maxNodes: a.MaxNodes, best: p.zeros()}
	if s.tol <= 0 {
		s.tol = DefaultLPTolerance
	}
	if s.maxNodes <= 0 {
		s.maxNodes = DefaultMaxNodes
	}
	if len(vars) == 0 {
		return s.best, nil
	}
	err := s.explore(make([]switchState, len(vars)))
	switch {
	case errors.Is(err, errNodeLimit):
		a.logger().Warnf("lp: %v after %d nodes, keeping the best schedule found", err, s.nodes)
	case err != nil:
		return nil, err
	}
	return s.best, nil
}

func (s *bnb) explore(fixed []switchState) error {
	if s.nodes >= s.maxNodes {
		return errNodeLimit
	}
	s.nodes++
	power, ok, err := s.relax(fixed)
	if err != nil || !ok {
		return err
	}
	bound := s.p.score(power)
	if bound <= s.bestScore+tolerance(s.bestScore, switchTol) {
		return nil
	}
	k := s.split(power)
	if k < 0 {
		s.offer(power)
		return nil
	}
	s.offer(s.p.rounded(power))

	v := s.vars[k]
	order := []switchState{switchOff, switchOn}
	if power[v.session][v.step] >= s.p.minW[v.session]/2 {
		order = []switchState{switchOn, switchOff}
	}
	for _, st := range order {
		child := append([]switchState(nil), fixed...)
		child[k] = st
		if err := s.explore(child); err != nil {
			return err
		}
	}
	return nil
}

// offer keeps power when it beats the incumbent.
func (s *bnb) offer(power [][]float64) {
	if score := s.p.score(power); score > s.bestScore+tolerance(s.bestScore, switchTol) {
		s.best = power
		s.bestScore = score
	}
}

// split returns the first pair whose relaxed power lies strictly between 0
// and its minimum, or -1.
func (s *bnb) split(power [][]float64) int {
	for k, v := range s.vars {
		if x := power[v.session][v.step]; x > 0 && x < s.p.minW[v.session] {
			return k
		}
	}
	return -1
}

// relax solves the linear relaxation of a node. ok is false when the fixed
// minimums alone exceed a step capacity or a session energy.
func (s *bnb) relax(fixed []switchState) ([][]float64, bool, error) {
	p := s.p
	power := p.zeros()
	capacity := append([]float64(nil), p.budget...)
	energy := append([]float64(nil), p.energy...)
	var cols []int
	for k, v := range s.vars {
		switch fixed[k] {
		case switchOff:
			continue
		case switchOn:
			m := p.minW[v.session]
			power[v.session][v.step] = m
			capacity[v.step] -= m
			energy[v.session] -= m * p.dt
		}
		cols = append(cols, k)
	}
	for t, c := range capacity {
		if c < -tolerance(p.budget[t], switchTol) {
			return nil, false, nil
		}
		capacity[t] = max(c, 0)
	}
	for i, e := range energy {
		if e < -tolerance(p.energy[i], switchTol) {
			return nil, false, nil
		}
		energy[i] = max(e, 0)
	}
	if len(cols) > 0 {
		c, A, b, basis := s.standardForm(fixed, cols, capacity, energy)
		x, err := lpSolve(c, A, b, s.tol, basis)
		if err != nil {
			return nil, false, err
		}
		if len(x) < len(cols) {
			return nil, false, fmt.Errorf("solver returned %d values for %d variables", len(x), len(cols))
		}
		for j, k := range cols {
			v := s.vars[k]
			power[v.session][v.step] += x[j]
		}
	}
	s.snap(power)
	return power, true, nil
}

// snap removes simplex round-off around 0 and min_power.
func (s *bnb) snap(power [][]float64) {
	for _, v := range s.vars {
		x := power[v.session][v.step]
		m := s.p.minW[v.session]
		switch {
		case x <= tolerance(s.p.maxW[v.session], switchTol):
			power[v.session][v.step] = 0
		case x < m && m-x <= tolerance(m, switchTol):
			power[v.session][v.step] = m
		}
	}
}

// standardForm builds min cᵀx, Ax = b, x ≥ 0 over the node columns with one
// slack per row: first the per-column upper bounds, then the per-step
// capacities, then the per-session energy rows. A switched-on column
// carries the power above min_power. Every right hand side is non-negative
// so the slack columns form a feasible starting basis.
func (s *bnb) standardForm(fixed []switchState, cols []int, capacity, energy []float64) ([]float64, *mat.Dense, []float64, []int) {
	p := s.p
	stepRow := make(map[int]int)
	sessionRow := make(map[int]int)
	var steps, sess []int
	for _, k := range cols {
		v := s.vars[k]
		if _, ok := stepRow[v.step]; !ok {
			stepRow[v.step] = -1
			steps = append(steps, v.step)
		}
		if _, ok := sessionRow[v.session]; !ok {
			sessionRow[v.session] = -1
			sess = append(sess, v.session)
		}
	}
	nv := len(cols)
	row := nv
	sort.Ints(steps)
	sort.Ints(sess)
	for _, t := range steps {
		stepRow[t] = row
		row++
	}
	for _, i := range sess {
		sessionRow[i] = row
		row++
	}
	m := row
	n := nv + m

	A := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	c := make([]float64, n)
	basis := make([]int, m)
	for r := 0; r < m; r++ {
		A.Set(r, nv+r, 1)
		basis[r] = nv + r
	}
	for j, k := range cols {
		v := s.vars[k]
		c[j] = -p.weight(v.session, v.step) * p.dt

		upper := p.maxW[v.session]
		if fixed[k] == switchOn {
			upper -= p.minW[v.session]
		}
		A.Set(j, j, 1)
		b[j] = max(upper, 0)
		A.Set(stepRow[v.step], j, 1)
		A.Set(sessionRow[v.session], j, p.dt)
	}
	for t, r := range stepRow {
		b[r] = capacity[t]
	}
	for i, r := range sessionRow {
		b[r] = energy[i]
	}
	return c, A, b, basis
}
