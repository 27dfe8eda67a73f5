// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

// ErrCycleAborted marks devices not serviced because the link failed earlier in the cycle.
var ErrCycleAborted = errors.New("poller: cycle aborted by transport fault")

// Config is the runtime config of the scheduler.
type Config struct {
	Intervals driver.Intervals
	Targets   []Target
	Hooks     []Hook

	Clock   clock.Clock
	Logger  zerolog.Logger
	Metrics *Metrics
}

// Scheduler runs poll cycles over every target on the shared link.
type Scheduler struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	// one cycle at a time
	mu sync.Mutex
}

// New creates a scheduler with immutable config.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Intervals.High <= 0 {
		return nil, errors.New("poller: high interval must be > 0")
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("poller: at least one target required")
	}
	for i, t := range cfg.Targets {
		if t.Device == nil || t.Transport == nil {
			return nil, fmt.Errorf("poller: target %d: device and transport required", i)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Scheduler{cfg: cfg, clock: cfg.Clock, log: cfg.Logger}, nil
}

// PollOnce performs exactly one cycle, budgeted to one high interval from now.
func (s *Scheduler) PollOnce(ctx context.Context) PollResult {
	return s.cycle(ctx, s.clock.Now().Add(s.cfg.Intervals.High))
}

// cycle runs the high pass over all devices, then the medium and low passes
// with whatever time is left before deadline.
func (s *Scheduler) cycle(ctx context.Context, deadline time.Time) PollResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()
	res := PollResult{At: start, Devices: make([]DeviceResult, len(s.cfg.Targets))}
	for i, t := range s.cfg.Targets {
		res.Devices[i].Name = t.Device.Name()
	}

	var fault error
	for _, tier := range []driver.Tier{driver.TierHigh, driver.TierMedium, driver.TierLow} {
		if fault != nil || ctx.Err() != nil {
			break
		}
		if tier != driver.TierHigh && !s.cfg.Intervals.Enabled(tier) {
			continue
		}
		fault = s.pass(ctx, tier, start, deadline, &res)
		s.afterPass(tier)
	}

	if fault != nil {
		res.Aborted = true
		s.log.Warn().Err(fault).Msg("poll cycle aborted")
	}

	res.Duration = s.clock.Since(start)
	s.cfg.Metrics.observe(res)
	return res
}

// pass services every target at one tier. It returns the transport fault that
// ended it early, if any.
func (s *Scheduler) pass(ctx context.Context, tier driver.Tier, cycleStart, deadline time.Time, res *PollResult) error {
	n := len(s.cfg.Targets)
	for i, t := range s.cfg.Targets {
		now := s.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			s.log.Debug().Stringer("tier", tier).Int("skipped", n-i).Msg("cycle budget exhausted")
			return nil
		}

		// high pass: every device may use what is left, later passes share it
		budget := remaining
		if tier != driver.TierHigh {
			budget = remaining / time.Duration(n-i)
		}

		p := driver.Pass{Tier: tier, CycleStart: cycleStart, Start: now, Budget: budget}
		regs, err := t.Device.UpdateStates(ctx, t.Transport, p)

		dr := &res.Devices[i]
		dr.Registers += regs
		if err != nil {
			dr.Err = err
		}

		if err != nil && ctx.Err() == nil && transport.IsTransportFault(err) {
			for j := i + 1; j < n; j++ {
				res.Devices[j].Err = fmt.Errorf("%w: %v", ErrCycleAborted, err)
			}
			return fmt.Errorf("%s: %w", t.Device.Name(), err)
		}

		if tier == driver.TierHigh && t.Control != nil {
			if done := t.Control.Process(ctx); done > 0 {
				s.log.Debug().Str("device", t.Device.Name()).Int("events", done).Msg("control events processed")
			}
		}
	}
	return nil
}

func (s *Scheduler) afterPass(tier driver.Tier) {
	at := s.clock.Now()
	for _, h := range s.cfg.Hooks {
		h.AfterPass(tier, at)
	}
}
