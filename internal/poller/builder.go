// internal/poller/builder.go
package poller

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	cfg "github.com/tamzrod/sun2000-bridge/internal/config"
	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/state"
	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

// Intervals converts the poll section of the config.
func Intervals(p cfg.PollConfig) driver.Intervals {
	return driver.Intervals{High: p.High(), Medium: p.Medium(), Low: p.Low()}
}

// BuildDrivers creates one driver per configured device, in config order.
func BuildDrivers(c *cfg.Config, cache *state.Cache, clk clock.Clock, log zerolog.Logger) ([]*driver.Driver, error) {
	out := make([]*driver.Driver, 0, len(c.Devices))
	for _, dc := range c.Devices {
		model, ok := driver.ModelFor(dc.Kind)
		if !ok {
			return nil, fmt.Errorf("device %s: unknown kind %q", dc.Name, dc.Kind)
		}
		d, err := driver.New(driver.Config{
			Name:      dc.Name,
			UnitID:    dc.UnitID,
			Model:     model,
			Intervals: Intervals(c.Poll),
			Cache:     cache,
			Clock:     clk,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Build constructs the Scheduler. Every driver reads through its own unit
// handle on the shared session; controls are keyed by device name.
func Build(
	c *cfg.Config,
	sess *transport.Session,
	drivers []*driver.Driver,
	controls map[string]Controller,
	hooks []Hook,
	clk clock.Clock,
	m *Metrics,
	log zerolog.Logger,
) (*Scheduler, error) {
	targets := make([]Target, 0, len(drivers))
	for _, d := range drivers {
		t := Target{Device: d, Transport: sess.Unit(d.UnitID())}
		if ctl, ok := controls[d.Name()]; ok {
			t.Control = ctl
		}
		targets = append(targets, t)
	}

	return New(Config{
		Intervals: Intervals(c.Poll),
		Targets:   targets,
		Hooks:     hooks,
		Clock:     clk,
		Logger:    log.With().Str("component", "poller").Logger(),
		Metrics:   m,
	})
}
