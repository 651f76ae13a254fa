package scm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/scm/core/model"
)

// ErrVoltageMismatch is returned by a SitePort when the active and future
// session fetches disagree on the recommended voltage.
var ErrVoltageMismatch = errors.New("voltage mismatch between active and future sessions")

// SitePort is the integration boundary of the control loop. Implementations
// bound every call by the context deadline.
type SitePort interface {
	// FetchPowerBudget returns the budget curve anchored at reference with
	// exactly the configured number of steps, or an empty curve when the site
	// has no data.
	FetchPowerBudget(ctx context.Context, group string, reference time.Time, voltageHint float64) (model.BudgetCurve, error)
	// FetchSessions returns active and future sessions in one snapshot and
	// the recommended voltage, 0 when the site does not provide one.
	FetchSessions(ctx context.Context, group string) ([]model.Session, float64, error)
	// PublishAllocation dispatches the profiles in the requested unit.
	PublishAllocation(ctx context.Context, alloc model.Allocation, unit model.ChargingRateUnit) error
}

// ProfilePublisher receives a copy of every dispatched profile set, e.g. a
// message bus feeding dashboards or charger gateways.
type ProfilePublisher interface {
	Name() string
	PublishProfiles(ctx context.Context, group string, profiles []model.ChargingProfile) error
}

type mirroredPort struct {
	SitePort
	mirrors []ProfilePublisher
}

// WithMirrors returns a port whose PublishAllocation also hands the profiles
// to every mirror. The primary port is called first; all failures are joined.
func WithMirrors(port SitePort, mirrors ...ProfilePublisher) SitePort {
	if len(mirrors) == 0 {
		return port
	}
	return &mirroredPort{SitePort: port, mirrors: mirrors}
}

func (p *mirroredPort) PublishAllocation(ctx context.Context, alloc model.Allocation, unit model.ChargingRateUnit) error {
	errs := []error{p.SitePort.PublishAllocation(ctx, alloc, unit)}
	profiles := alloc.Profiles(unit)
	for _, m := range p.mirrors {
		if err := m.PublishProfiles(ctx, alloc.Group, profiles); err != nil {
			errs = append(errs, fmt.Errorf("mirror %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
