// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

var (
	ErrNoEndpoint = errors.New("config: modbus.endpoint is required")
	ErrNoDevices  = errors.New("config: at least one device is required")
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	m := cfg.Modbus
	if m.Endpoint == "" {
		return ErrNoEndpoint
	}
	if _, _, err := net.SplitHostPort(m.Endpoint); err != nil {
		return fmt.Errorf("config: modbus.endpoint %q: %w", m.Endpoint, err)
	}

	for name, v := range map[string]int{
		"timeout_ms":       m.TimeoutMs,
		"delay_ms":         m.DelayMs,
		"connect_delay_ms": m.ConnectDelayMs,
		"min_delay_ms":     m.MinDelayMs,
		"max_delay_ms":     m.MaxDelayMs,
		"connect_retries":  m.ConnectRetries,
	} {
		if v < 0 {
			return fmt.Errorf("config: modbus.%s must be >= 0", name)
		}
	}

	if m.AutoAdjust && m.MaxDelayMs != 0 && m.MinDelayMs > m.MaxDelayMs {
		return fmt.Errorf(
			"config: modbus.min_delay_ms (%d) exceeds max_delay_ms (%d)",
			m.MinDelayMs,
			m.MaxDelayMs,
		)
	}

	// ------------------------------------------------------------
	// POLL TIERS
	// ------------------------------------------------------------

	p := cfg.Poll
	if p.HighMs < 0 || p.MediumMs < 0 || p.LowMs < 0 {
		return errors.New("config: poll intervals must be >= 0")
	}
	// zero values are defaulted later; explicit ones must be ordered
	if p.HighMs > 0 && p.MediumMs > 0 && p.MediumMs < p.HighMs {
		return fmt.Errorf("config: poll.medium_ms (%d) shorter than high_ms (%d)", p.MediumMs, p.HighMs)
	}
	if p.MediumMs > 0 && p.LowMs > 0 && p.LowMs < p.MediumMs {
		return fmt.Errorf("config: poll.low_ms (%d) shorter than medium_ms (%d)", p.LowMs, p.MediumMs)
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	if len(cfg.Devices) == 0 {
		return ErrNoDevices
	}

	names := make(map[string]struct{})
	units := make(map[uint8]string)
	kinds := make(map[string]string)

	for i, d := range cfg.Devices {
		if d.Name == "" {
			return fmt.Errorf("config: devices[%d]: name is required", i)
		}
		for j := 0; j < len(d.Name); j++ {
			c := d.Name[j]
			// names become state path and topic segments
			if c == '.' || c == '/' || c == '+' || c == '#' || c > 0x7F {
				return fmt.Errorf("config: device %q: name must be ASCII without '.', '/', '+', '#'", d.Name)
			}
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("config: duplicate device name %q", d.Name)
		}
		names[d.Name] = struct{}{}

		switch d.Kind {
		case KindInverter:
			if d.UnitID < 1 || d.UnitID > 247 {
				return fmt.Errorf("config: device %q: inverter unit_id must be 1..247", d.Name)
			}
		case KindSDongle, KindSmartLogger:
			if prev, dup := kinds[d.Kind]; dup {
				return fmt.Errorf("config: devices %q and %q: only one %s allowed", prev, d.Name, d.Kind)
			}
			kinds[d.Kind] = d.Name
		default:
			return fmt.Errorf("config: device %q: unknown kind %q", d.Name, d.Kind)
		}

		// unit 0 is the broadcast address and never answers a read
		unit := d.EffectiveUnitID()
		if unit == 0 {
			return fmt.Errorf("config: device %q: unit_id is required", d.Name)
		}
		if prev, dup := units[unit]; dup {
			return fmt.Errorf(
				"config: unit_id collision: %d used by devices %q and %q",
				unit,
				prev,
				d.Name,
			)
		}
		units[unit] = d.Name
	}

	// ------------------------------------------------------------
	// OBSERVABILITY
	// ------------------------------------------------------------

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("config: log.level: %w", err)
		}
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("config: metrics.listen %q: %w", cfg.Metrics.Listen, err)
		}
	}

	return nil
}
