package algorithm

import (
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/logger"
)

var registry = factory.NewRegistry[Algorithm]()

type lpConf struct {
	Tolerance    float64 `json:"tolerance"`
	MaxNodes     int     `json:"max_nodes"`
	MaxVariables *int    `json:"max_variables"`
}

func init() {
	registry.MustRegister("lp", func(conf map[string]any) (Algorithm, error) {
		var c lpConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		a := NewLPAlgorithm()
		if c.Tolerance > 0 {
			a.Tolerance = c.Tolerance
		}
		if c.MaxNodes > 0 {
			a.MaxNodes = c.MaxNodes
		}
		if c.MaxVariables != nil {
			a.MaxVariables = *c.MaxVariables
		}
		return a, nil
	})
	registry.MustRegister("greedy", func(map[string]any) (Algorithm, error) {
		return NewGreedyAlgorithm(), nil
	})
}

// Option adjusts a strategy built by New.
type Option func(Algorithm) Algorithm

// WithLogger routes the solver warnings (size fallback, node limit) to l.
func WithLogger(l logger.Logger) Option {
	return func(a Algorithm) Algorithm {
		if lp, ok := a.(LPAlgorithm); ok {
			lp.Log = l
			return lp
		}
		return a
	}
}

// New instantiates the strategy named by cfg.Type. An empty type selects the
// exact strategy.
func New(cfg factory.ModuleConfig, opts ...Option) (Algorithm, error) {
	if cfg.Type == "" {
		cfg.Type = "lp"
	}
	a, err := registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	for _, o := range opts {
		a = o(a)
	}
	return a, nil
}

// Types lists the available strategies.
func Types() []string { return registry.Types() }
