// internal/driver/types.go
package driver

import (
	"context"
	"time"

	"github.com/tamzrod/sun2000-bridge/internal/codec"
	"github.com/tamzrod/sun2000-bridge/internal/state"
)

// ---- tiers ----

// Tier is the refresh class of a block and of a poll pass.
// The zero value is the highest tier: blocks without a tier are read every cycle.
type Tier uint8

const (
	TierHigh Tier = iota
	TierMedium
	TierLow
)

func (t Tier) String() string {
	switch t {
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "high"
	}
}

// Intervals are the configured tier periods.
type Intervals struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

func (iv Intervals) of(t Tier) time.Duration {
	switch t {
	case TierMedium:
		return iv.Medium
	case TierLow:
		return iv.Low
	default:
		return iv.High
	}
}

// Enabled reports whether tier t has a period configured.
func (iv Intervals) Enabled(t Tier) bool { return iv.of(t) > 0 }

// ---- sub-devices ----

// Feature is a sub-device that may or may not be attached to a logical device.
type Feature uint8

const (
	FeatureMeter Feature = 1 << iota
	FeatureBattery
	FeatureBattery2
)

func (f Feature) String() string {
	switch f {
	case FeatureMeter:
		return "meter"
	case FeatureBattery:
		return "battery"
	case FeatureBattery2:
		return "battery2"
	default:
		return "none"
	}
}

// ---- descriptors ----

// Mapper transforms a decoded value after gain.
type Mapper func(v any) (any, error)

// Field decodes one value out of a block.
type Field struct {
	Path   string
	Type   codec.Type
	Offset uint16 // registers from the block address
	Length uint16 // strings only
	Gain   float64
	Unit   string
	Mapper Mapper
	Store  state.Policy
}

// Size is the number of registers the field covers.
func (f Field) Size() uint16 {
	if f.Type == codec.String {
		return f.Length
	}
	return f.Type.Size()
}

// Block is one contiguous holding register read.
// Tables of blocks are shared between drivers and never mutated.
type Block struct {
	Name    string
	Address uint16
	Length  uint16

	Tier Tier
	// Interval is the minimum age before an untiered block is read again in a
	// medium or low pass. Zero means the high interval.
	Interval time.Duration

	Requires      Feature
	ReadInStandby bool

	Fields []Field

	// Materialize produces the field list and length of a dynamically sized
	// block. It is called before each read until it reports ok; the result is
	// kept per driver.
	Materialize func(d *Driver) ([]Field, uint16, bool)

	// PostHook derives values from the fields already decoded.
	PostHook func(d *Driver)

	// ReadErrorHook reports whether a failed read was handled.
	ReadErrorHook func(d *Driver, err error) bool
}

// Strategy holds the model specific behaviour of a driver.
type Strategy struct {
	// ModbusAllowed is false while the device is in standby.
	ModbusAllowed func(d *Driver) bool
	// DeviceStatus is a readable form of the device status.
	DeviceStatus func(d *Driver) string
	// Present reports whether a sub-device is attached.
	Present func(d *Driver, f Feature) bool
}

// Model is the register table and strategy of one device family.
type Model struct {
	Name     string
	Blocks   []Block
	Strategy Strategy
}

// ---- runtime ----

// Transport is what the driver needs from the link.
type Transport interface {
	ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error)
	Delay() time.Duration
}

// Pass describes one UpdateStates call.
type Pass struct {
	Tier       Tier
	CycleStart time.Time // start of the whole cycle
	Start      time.Time // start of this device's share
	Budget     time.Duration
}

// Object describes one published state.
type Object struct {
	Path string
	Kind state.Kind
	Unit string
}
