package sitemock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/scm/infra/httpport"
	"github.com/kilianp07/scm/infra/logger"
)

// Notification is the websocket payload announcing a reservation change.
type Notification struct {
	Type    string `json:"type"`
	Group   string `json:"group"`
	EVID    string `json:"ev_id"`
	Arrival string `json:"arrival_time"`
}

// GeneratorConfig drives the random reservation generator.
type GeneratorConfig struct {
	Group           string  `json:"group"`
	IntervalSeconds int     `json:"interval_seconds"`
	Stations        int     `json:"stations"`
	MaxPowerW       float64 `json:"max_power_w"`
	Seed            uint64  `json:"seed"`
	MaxLeadMinutes  int     `json:"max_lead_minutes"`
}

// SetDefaults applies sane defaults.
func (c *GeneratorConfig) SetDefaults() {
	if c.Group == "" {
		c.Group = "default"
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 30
	}
	if c.Stations == 0 {
		c.Stations = 4
	}
	if c.MaxPowerW == 0 {
		c.MaxPowerW = 7400
	}
	if c.MaxLeadMinutes == 0 {
		c.MaxLeadMinutes = 120
	}
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
}

// Generator adds random reservations to a site and announces each one on the
// hub. Arrived reservations are plugged in on every tick.
type Generator struct {
	cfg  GeneratorConfig
	site *Site
	hub  *Hub
	rng  *rand.Rand
	now  func() time.Time
	log  logger.Logger
}

// NewGenerator returns a generator writing to site and hub.
func NewGenerator(cfg GeneratorConfig, site *Site, hub *Hub) *Generator {
	cfg.SetDefaults()
	return &Generator{
		cfg:  cfg,
		site: site,
		hub:  hub,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		now:  time.Now,
		log:  logger.New("sitemock_generator"),
	}
}

// Reservation draws one random future session.
func (g *Generator) Reservation() httpport.SessionDTO {
	now := g.now().UTC().Truncate(time.Minute)
	arrival := now.Add(time.Duration(g.rng.Int64N(int64(time.Duration(g.cfg.MaxLeadMinutes) * time.Minute)) + int64(time.Minute)))
	stay := time.Duration(1+g.rng.IntN(6)) * time.Hour
	maxW := g.cfg.MaxPowerW * (0.5 + g.rng.Float64()/2)
	return httpport.SessionDTO{
		EVID:          httpport.ID(uuid.NewString()),
		StationID:     httpport.ID(fmt.Sprintf("cs-%d", 1+g.rng.IntN(g.cfg.Stations))),
		ConnectorID:   1,
		MaxPower:      maxW,
		ArrivalTime:   arrival,
		DepartureTime: arrival.Add(stay),
		EnergyNeeded:  maxW * stay.Hours() * g.rng.Float64(),
	}
}

// Step advances the site and adds one reservation.
func (g *Generator) Step(ctx context.Context) error {
	if n := g.site.Advance(g.now()); n > 0 {
		g.log.Debugf("%d sessions changed state", n)
	}
	ev := g.Reservation()
	g.site.AddReservation(g.cfg.Group, ev)
	msg, err := json.Marshal(Notification{
		Type:    "reservation",
		Group:   g.cfg.Group,
		EVID:    string(ev.EVID),
		Arrival: ev.ArrivalTime.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	g.log.Infof("new reservation %s on %s at %s", ev.EVID, ev.StationID, ev.ArrivalTime.Format(time.RFC3339))
	if g.hub == nil {
		return nil
	}
	return g.hub.Broadcast(ctx, msg)
}

// Run calls Step on every interval until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	t := time.NewTicker(time.Duration(g.cfg.IntervalSeconds) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := g.Step(ctx); err != nil && ctx.Err() == nil {
				g.log.Warnf("generator step: %v", err)
			}
		}
	}
}
