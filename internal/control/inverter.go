// internal/control/inverter.go
package control

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/codec"
	"github.com/tamzrod/sun2000-bridge/internal/driver"
)

// InverterServices is the control table of a SUN2000 inverter.
func InverterServices() []Service {
	return []Service{
		register("control.activePowerLimitPercent", DomainInverter, driver.RegActivePowerDerating, codec.Int16, 10, 0, 100),

		register("control.battery.maximumChargingPower", DomainBattery, driver.RegMaximumChargingPower, codec.Uint32, 1, 0, 25000),
		register("control.battery.maximumDischargingPower", DomainBattery, driver.RegMaximumDischargingPower, codec.Uint32, 1, 0, 25000),
		register("control.battery.chargingCutoffCapacity", DomainBattery, driver.RegChargingCutoffCapacity, codec.Uint16, 10, 90, 100),
		register("control.battery.dischargeCutoffCapacity", DomainBattery, driver.RegDischargeCutoffCapacity, codec.Uint16, 10, 0, 20),
		register("control.battery.workingModeSettings", DomainBattery, driver.RegWorkingModeSettings, codec.Uint16, 1, 0, 5),
		register("control.battery.chargeFromGridFunction", DomainBattery, driver.RegChargeFromGridFunction, codec.Uint16, 1, 0, 1),
		register("control.battery.gridChargeCutoffSOC", DomainBattery, driver.RegGridChargeCutoffSOC, codec.Uint16, 10, 20, 100),
	}
}

// register builds a numeric service writing value*gain, clamped to [min,max], at addr.
func register(id string, domain Domain, addr uint16, t codec.Type, gain, min, max float64) Service {
	return Service{
		ID:      id,
		Numeric: true,
		Domain:  domain,
		Min:     min,
		Max:     max,
		Handler: func(ctx context.Context, w Writer, value any) error {
			v, ok := value.(float64)
			if !ok {
				return fmt.Errorf("%w: %T", ErrNotNumeric, value)
			}
			v = math.Max(min, math.Min(max, v))

			regs, err := codec.Encode(t, math.Round(v*gain), 0)
			if err != nil {
				return err
			}
			if len(regs) == 1 {
				return w.WriteRegister(ctx, addr, regs[0])
			}
			return w.WriteRegisters(ctx, addr, regs)
		},
	}
}

// ForDriver builds the queue of a driver. Models without controls get nil.
func ForDriver(d *driver.Driver, acker Acker, log zerolog.Logger) (*Queue, error) {
	if d.Model() != driver.InverterModel {
		return nil, nil
	}
	return NewQueue(Config{
		Device:   d.Name(),
		Services: InverterServices(),
		Ready: func(dm Domain) bool {
			return dm != DomainBattery || driver.BatteryOperational(d)
		},
		Acker:  acker,
		Logger: log,
	})
}
