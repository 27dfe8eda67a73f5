// internal/config/validate_test.go
package config

import (
	"errors"
	"strings"
	"testing"
)

// helper to build a valid config quickly
func base(devices ...DeviceConfig) *Config {
	if len(devices) == 0 {
		devices = []DeviceConfig{inverter("inv1", 1)}
	}
	return &Config{
		Modbus:  ModbusConfig{Endpoint: "192.168.200.1:502"},
		Devices: devices,
	}
}

func inverter(name string, unit uint8) DeviceConfig {
	return DeviceConfig{Name: name, Kind: KindInverter, UnitID: unit}
}

// ---- tests ----

func TestValidate_OK(t *testing.T) {
	cfg := base(
		inverter("inv1", 1),
		inverter("inv2", 2),
		DeviceConfig{Name: "dongle", Kind: KindSDongle},
	)

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingEndpoint(t *testing.T) {
	cfg := base()
	cfg.Modbus.Endpoint = ""

	if err := Validate(cfg); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestValidate_EndpointWithoutPort(t *testing.T) {
	cfg := base()
	cfg.Modbus.Endpoint = "192.168.200.1"

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected endpoint error, got nil")
	}
}

func TestValidate_NoDevices(t *testing.T) {
	cfg := base()
	cfg.Devices = nil

	if err := Validate(cfg); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}

func TestValidate_UnitIDCollision(t *testing.T) {
	cfg := base(inverter("inv1", 1), inverter("inv2", 1))

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected unit_id collision error, got nil")
	}
	if !strings.Contains(err.Error(), "collision") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_DefaultDongleUnitCollides(t *testing.T) {
	cfg := base(
		inverter("inv1", DefaultSDongleUnitID),
		DeviceConfig{Name: "dongle", Kind: KindSDongle},
	)

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected unit_id collision error, got nil")
	}
	if !strings.Contains(err.Error(), "collision") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SmartLoggerNeedsUnit(t *testing.T) {
	cfg := base(inverter("inv1", 1), DeviceConfig{Name: "logger", Kind: KindSmartLogger})

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unit_id required error, got nil")
	}

	cfg.Devices[1].UnitID = 3
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_DuplicateName(t *testing.T) {
	cfg := base(inverter("inv1", 1), inverter("inv1", 2))

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate name error, got nil")
	}
}

func TestValidate_BadName(t *testing.T) {
	for _, name := range []string{"inv.1", "inv/1", "inv#", "wechselrichter-ä"} {
		cfg := base(inverter(name, 1))
		if err := Validate(cfg); err == nil {
			t.Fatalf("name %q: expected error, got nil", name)
		}
	}
}

func TestValidate_InverterUnitRange(t *testing.T) {
	for _, unit := range []uint8{0, 248} {
		cfg := base(inverter("inv1", unit))
		if err := Validate(cfg); err == nil {
			t.Fatalf("unit %d: expected error, got nil", unit)
		}
	}
}

func TestValidate_SingleLogger(t *testing.T) {
	cfg := base(
		DeviceConfig{Name: "a", Kind: KindSDongle, UnitID: 100},
		DeviceConfig{Name: "b", Kind: KindSDongle, UnitID: 101},
	)

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected single sdongle error, got nil")
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	cfg := base(DeviceConfig{Name: "m", Kind: "meter", UnitID: 11})

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unknown kind error, got nil")
	}
}

func TestValidate_DelayBounds(t *testing.T) {
	cfg := base()
	cfg.Modbus.AutoAdjust = true
	cfg.Modbus.MinDelayMs = 3000
	cfg.Modbus.MaxDelayMs = 1000

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected delay bound error, got nil")
	}

	cfg.Modbus.MinDelayMs = -1
	cfg.Modbus.MaxDelayMs = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected negative value error, got nil")
	}
}

func TestValidate_TierOrder(t *testing.T) {
	cfg := base()
	cfg.Poll = PollConfig{HighMs: 30000, MediumMs: 10000}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected tier order error, got nil")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := base()
	cfg.Log.Level = "loud"

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected log level error, got nil")
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := base(DeviceConfig{Name: "dongle", Kind: KindSDongle})

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Devices[0].UnitID != 0 || cfg.Modbus.TimeoutMs != 0 {
		t.Fatalf("Validate mutated config: %+v", cfg)
	}
}
