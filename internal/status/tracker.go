// internal/status/tracker.go
package status

import (
	"errors"
	"time"

	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

// Tracker owns the health snapshot of one device.
// It is driven by poll results and a 1 Hz tick. Not safe for concurrent use.
type Tracker struct {
	snap     Snapshot
	lastOK   time.Time
	staleAge time.Duration
}

// NewTracker starts in HealthUnknown. staleAge = 0 disables stale detection.
func NewTracker(staleAge time.Duration) *Tracker {
	return &Tracker{
		snap:     Snapshot{Health: HealthUnknown},
		staleAge: staleAge,
	}
}

func (t *Tracker) Snapshot() Snapshot { return t.snap }

// Observe applies one device poll outcome. It reports whether the snapshot changed.
func (t *Tracker) Observe(err error, at time.Time) bool {
	prev := t.snap

	if err == nil {
		// Recovery / OK: reset error code and counter
		t.lastOK = at
		t.snap = Snapshot{Health: HealthOK}
		return t.snap != prev
	}

	t.snap.Health = HealthError
	t.snap.LastErrorCode = ErrorCode(err)
	// NOTE: seconds_in_error increments on the 1Hz tick only.
	return t.snap != prev
}

// Tick advances seconds-in-error while not OK and flags stale data.
// It reports whether the snapshot changed.
func (t *Tracker) Tick(now time.Time) bool {
	prev := t.snap

	if t.snap.Health == HealthOK && t.staleAge > 0 && !t.lastOK.IsZero() && now.Sub(t.lastOK) > t.staleAge {
		t.snap.Health = HealthStale
	}

	if t.snap.Health != HealthOK && t.snap.SecondsInError < MaxSecondsInError {
		t.snap.SecondsInError++
	}
	return t.snap != prev
}

// ErrorCode extracts a best-effort uint16 code from an error.
// Modbus exceptions map to their exception code; anything without a code returns 1 (generic error).
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	if code, ok := transport.ExceptionCode(err); ok {
		return uint16(code)
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}

	return 1
}
