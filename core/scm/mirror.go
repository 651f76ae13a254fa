package scm

import (
	"fmt"

	"github.com/kilianp07/scm/core/factory"
)

var mirrorRegistry = factory.NewRegistry[ProfilePublisher]()

// RegisterMirror adds a profile mirror factory identified by name.
func RegisterMirror(name string, f factory.Factory[ProfilePublisher]) error {
	return mirrorRegistry.Register(name, f)
}

// NewMirrors creates every configured profile mirror. Mirrors created before
// a failure are returned so the caller can close them.
func NewMirrors(cfgs []factory.ModuleConfig) ([]ProfilePublisher, error) {
	out := make([]ProfilePublisher, 0, len(cfgs))
	for i, c := range cfgs {
		m, err := mirrorRegistry.Create(c)
		if err != nil {
			return out, fmt.Errorf("mirror %d (%s): %w", i, c.Type, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// MirrorTypes lists the registered mirror types.
func MirrorTypes() []string { return mirrorRegistry.Types() }
