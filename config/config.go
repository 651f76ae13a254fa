// Package config loads the service configuration from a YAML or JSON file
// with K_ prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/core/history"
	"github.com/kilianp07/scm/core/metrics"
	"github.com/kilianp07/scm/core/scm"
	"github.com/kilianp07/scm/infra/httpport"
	"github.com/kilianp07/scm/infra/sitemock"
)

type Config struct {
	SCM          scm.Config             `json:"scm"`
	Site         httpport.Config        `json:"site"`
	Reservations []factory.ModuleConfig `json:"reservations"`
	Mirrors      []factory.ModuleConfig `json:"mirrors"`
	Metrics      metrics.Config         `json:"metrics"`
	History      history.Config         `json:"history"`
	SiteMock     sitemock.Config        `json:"sitemock"`
}

// Load reads path, applies environment overrides (K_SCM__STEP_MINUTES=5 sets
// scm.step_minutes), fills defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.SCM.SetDefaults()
	c.Site.SetDefaults()
	c.Metrics.SetDefaults()
	c.History.SetDefaults()
	c.SiteMock.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.SCM.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scm: %w", err))
	}
	if err := c.Site.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("site: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if err := c.History.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	for i, r := range c.Reservations {
		if r.Type == "" {
			errs = append(errs, fmt.Errorf("reservations[%d]: type is required", i))
		}
	}
	for i, m := range c.Mirrors {
		if m.Type == "" {
			errs = append(errs, fmt.Errorf("mirrors[%d]: type is required", i))
		}
	}
	return errors.Join(errs...)
}
