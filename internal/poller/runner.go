// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run starts the cycle loop and emits PollResult on the provided channel.
// Cycles start on wall-clock boundaries start+n*high. No overlap: a slow cycle
// shortens the next one, boundaries already passed are skipped.
func (s *Scheduler) Run(ctx context.Context, out chan<- PollResult) {
	period := s.cfg.Intervals.High
	boundary := s.clock.Now()

	for {
		deadline := nextBoundary(boundary, s.clock.Now(), period)
		res := s.cycle(ctx, deadline)

		select {
		case <-ctx.Done():
			return
		case out <- res:
		}

		if !s.sleepUntil(ctx, deadline) {
			return
		}
		boundary = deadline
	}
}

// nextBoundary is the first boundary+n*period strictly after now, n >= 1.
func nextBoundary(boundary, now time.Time, period time.Duration) time.Time {
	next := boundary.Add(period)
	if next.After(now) {
		return next
	}
	missed := now.Sub(next)/period + 1
	return next.Add(missed * period)
}

func (s *Scheduler) sleepUntil(ctx context.Context, at time.Time) bool {
	d := at.Sub(s.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
