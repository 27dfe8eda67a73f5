// cmd/sun2000/orchestrator.go
package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/poller"
	"github.com/tamzrod/sun2000-bridge/internal/state"
	"github.com/tamzrod/sun2000-bridge/internal/status"
)

// orchestrator owns the per-device health trackers: poll results and a 1 Hz
// ticker drive them, the cache publishes them.
type orchestrator struct {
	cache    *state.Cache
	clock    clock.Clock
	log      zerolog.Logger
	devices  []string
	trackers map[string]*status.Tracker
}

func newOrchestrator(drivers []*driver.Driver, cache *state.Cache, clk clock.Clock, staleAge time.Duration, log zerolog.Logger) *orchestrator {
	o := &orchestrator{
		cache:    cache,
		clock:    clk,
		log:      log,
		trackers: make(map[string]*status.Tracker, len(drivers)),
	}
	for _, d := range drivers {
		o.devices = append(o.devices, d.Name())
		o.trackers[d.Name()] = status.NewTracker(staleAge)
	}
	return o
}

func (o *orchestrator) run(ctx context.Context, results <-chan poller.PollResult) {
	// Default snapshot on start.
	for _, name := range o.devices {
		status.Publish(o.cache, name, o.trackers[name].Snapshot())
	}

	ticker := o.clock.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-results:
			o.observe(res)

		case now := <-ticker.C:
			for _, name := range o.devices {
				t := o.trackers[name]
				if t.Tick(now) {
					status.Publish(o.cache, name, t.Snapshot())
				}
			}
		}
	}
}

func (o *orchestrator) observe(res poller.PollResult) {
	for _, dr := range res.Devices {
		t, ok := o.trackers[dr.Name]
		if !ok {
			continue
		}
		if !t.Observe(dr.Err, res.At) {
			continue
		}
		snap := t.Snapshot()
		status.Publish(o.cache, dr.Name, snap)

		ev := o.log.Info()
		if snap.Health != status.HealthOK {
			ev = o.log.Warn().Err(dr.Err)
		}
		ev.Str("device", dr.Name).Str("health", status.HealthText(snap.Health)).Msg("device health changed")
	}

	o.log.Debug().
		Dur("duration", res.Duration).
		Bool("aborted", res.Aborted).
		Msg("poll cycle done")
}
