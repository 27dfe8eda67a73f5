// internal/poller/types.go
package poller

import (
	"context"
	"time"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
)

// Device is one logical device behind the shared link.
type Device interface {
	Name() string
	UpdateStates(ctx context.Context, tr driver.Transport, p driver.Pass) (int, error)
}

// Controller drains pending control events of one device.
type Controller interface {
	Process(ctx context.Context) int
}

// Target binds a device to the transport handle it reads through.
// Control may be nil.
type Target struct {
	Device    Device
	Transport driver.Transport
	Control   Controller
}

// Hook runs after every tier pass, independent of any single device.
type Hook interface {
	AfterPass(tier driver.Tier, at time.Time)
}

// HookFunc adapts a function to Hook.
type HookFunc func(tier driver.Tier, at time.Time)

func (f HookFunc) AfterPass(tier driver.Tier, at time.Time) { f(tier, at) }

// DeviceResult is the outcome of one cycle for one device.
type DeviceResult struct {
	Name      string
	Registers int

	// Err is the last error of the cycle. A transport fault on another
	// device leaves the devices after it with ErrCycleAborted.
	Err error
}

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	At       time.Time
	Duration time.Duration
	Devices  []DeviceResult
	Aborted  bool // a transport fault ended the cycle early
}
