// internal/driver/inverter.go
package driver

import (
	"fmt"
	"time"

	"github.com/tamzrod/sun2000-bridge/internal/codec"
	"github.com/tamzrod/sun2000-bridge/internal/state"
	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

// Inverter register addresses used outside the block table.
const (
	RegActivePowerDerating = 40125

	RegBatteryUnit1Model       = 47000
	RegMaximumChargingPower    = 47075
	RegMaximumDischargingPower = 47077
	RegChargingCutoffCapacity  = 47081
	RegDischargeCutoffCapacity = 47082
	RegWorkingModeSettings     = 47086
	RegChargeFromGridFunction  = 47087
	RegGridChargeCutoffSOC     = 47088
	RegBatteryUnit2Model       = 47089
)

const (
	pvStringBase = 32016
	maxPVStrings = 24
)

// Device status codes (register 32089).
const (
	StatusStandbyInitializing   = 0x0000
	StatusStandbyInsulation     = 0x0001
	StatusStandbyIrradiation    = 0x0002
	StatusStandbyGridDetecting  = 0x0003
	StatusStarting              = 0x0100
	StatusOnGrid                = 0x0200
	StatusOnGridPowerLimited    = 0x0201
	StatusOnGridSelfDerating    = 0x0202
	StatusOffGrid               = 0x0203
	StatusShutdownFault         = 0x0300
	StatusShutdownCommand       = 0x0301
	StatusShutdownOVGR          = 0x0302
	StatusShutdownCommLost      = 0x0303
	StatusShutdownPowerLimited  = 0x0304
	StatusShutdownManualStartup = 0x0305
	StatusShutdownDCSwitches    = 0x0306
	StatusShutdownRapidCutoff   = 0x0307
	StatusShutdownInputUnder    = 0x0308
	StatusGridScheduling        = 0x0401
	StatusSpotCheckReady        = 0x0500
	StatusSpotChecking          = 0x0501
	StatusInspecting            = 0x0600
	StatusAFCISelfCheck         = 0x0700
	StatusIVScanning            = 0x0800
	StatusDCInputDetection      = 0x0900
	StatusOffGridRunning        = 0x0A00
	StatusOffGridCharging       = 0x0A01
	StatusStandbyNoIrradiation  = 0xA000
)

var statusText = map[int]string{
	StatusStandbyInitializing:   "Standby: initializing",
	StatusStandbyInsulation:     "Standby: detecting insulation resistance",
	StatusStandbyIrradiation:    "Standby: detecting irradiation",
	StatusStandbyGridDetecting:  "Standby: grid detecting",
	StatusStarting:              "Starting",
	StatusOnGrid:                "On-grid",
	StatusOnGridPowerLimited:    "Grid connection: power limited",
	StatusOnGridSelfDerating:    "Grid connection: self-derating",
	StatusOffGrid:               "Off-grid running",
	StatusShutdownFault:         "Shutdown: fault",
	StatusShutdownCommand:       "Shutdown: command",
	StatusShutdownOVGR:          "Shutdown: OVGR",
	StatusShutdownCommLost:      "Shutdown: communication disconnected",
	StatusShutdownPowerLimited:  "Shutdown: power limited",
	StatusShutdownManualStartup: "Shutdown: manual startup required",
	StatusShutdownDCSwitches:    "Shutdown: DC switches disconnected",
	StatusShutdownRapidCutoff:   "Shutdown: rapid cutoff",
	StatusShutdownInputUnder:    "Shutdown: input underpower",
	StatusGridScheduling:        "Grid scheduling: cosphi-P curve",
	StatusSpotCheckReady:        "Spot-check ready",
	StatusSpotChecking:          "Spot-checking",
	StatusInspecting:            "Inspecting",
	StatusAFCISelfCheck:         "AFCI self check",
	StatusIVScanning:            "I-V scanning",
	StatusDCInputDetection:      "DC input detection",
	StatusOffGridRunning:        "Running: off-grid",
	StatusOffGridCharging:       "Running: off-grid charging",
	StatusStandbyNoIrradiation:  "Standby: no irradiation",
}

// StatusText returns the readable form of a device status code.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (0x%04X)", code)
}

// IsStandby reports whether the inverter does not produce and answers only a few registers.
func IsStandby(code int) bool {
	switch code {
	case StatusStandbyInitializing, StatusStandbyInsulation, StatusStandbyIrradiation,
		StatusStandbyGridDetecting, StatusStandbyNoIrradiation:
		return true
	}
	return false
}

// ---- model ----

// InverterModel is the model name of Inverter().
const InverterModel = "sun2000"

// Inverter returns the SUN2000 inverter model with optional meter and two battery units.
func Inverter() Model {
	return Model{
		Name:   InverterModel,
		Blocks: inverterBlocks(),
		Strategy: Strategy{
			ModbusAllowed: inverterModbusAllowed,
			DeviceStatus:  inverterDeviceStatus,
			Present:       inverterPresent,
		},
	}
}

func inverterModbusAllowed(d *Driver) bool {
	code, ok := d.Number("deviceStatus")
	if !ok {
		return true
	}
	return !IsStandby(int(code))
}

func inverterDeviceStatus(d *Driver) string {
	code, ok := d.Number("deviceStatus")
	if !ok {
		return ""
	}
	return StatusText(int(code))
}

func inverterPresent(d *Driver, f Feature) bool {
	if f&FeatureBattery2 != 0 && !d.HasFeature(FeatureBattery) {
		return false
	}
	return d.HasFeature(f)
}

// BatteryOperational reports whether battery unit 1 is attached and not offline.
func BatteryOperational(d *Driver) bool {
	if !d.Present(FeatureBattery) {
		return false
	}
	st, ok := d.Number("battery.unit1.runningStatus")
	if !ok {
		// settings answered, status not read yet
		return true
	}
	return st != 0
}

func inverterBlocks() []Block {
	return []Block{
		{
			Name:          "ac",
			Address:       32064,
			Length:        52,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "inputPower", Type: codec.Int32, Offset: 0, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
				{Path: "grid.lineVoltageAB", Type: codec.Uint16, Offset: 2, Gain: 10, Unit: "V"},
				{Path: "grid.lineVoltageBC", Type: codec.Uint16, Offset: 3, Gain: 10, Unit: "V"},
				{Path: "grid.lineVoltageCA", Type: codec.Uint16, Offset: 4, Gain: 10, Unit: "V"},
				{Path: "grid.phaseAVoltage", Type: codec.Uint16, Offset: 5, Gain: 10, Unit: "V"},
				{Path: "grid.phaseBVoltage", Type: codec.Uint16, Offset: 6, Gain: 10, Unit: "V"},
				{Path: "grid.phaseCVoltage", Type: codec.Uint16, Offset: 7, Gain: 10, Unit: "V"},
				{Path: "grid.phaseACurrent", Type: codec.Int32, Offset: 8, Gain: 1000, Unit: "A"},
				{Path: "grid.phaseBCurrent", Type: codec.Int32, Offset: 10, Gain: 1000, Unit: "A"},
				{Path: "grid.phaseCCurrent", Type: codec.Int32, Offset: 12, Gain: 1000, Unit: "A"},
				{Path: "peakActivePowerCurrentDay", Type: codec.Int32, Offset: 14, Gain: 1000, Unit: "kW"},
				{Path: "activePower", Type: codec.Int32, Offset: 16, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
				{Path: "reactivePower", Type: codec.Int32, Offset: 18, Gain: 1000, Unit: "kVar"},
				{Path: "powerFactor", Type: codec.Int16, Offset: 20, Gain: 1000},
				{Path: "grid.frequency", Type: codec.Uint16, Offset: 21, Gain: 100, Unit: "Hz"},
				{Path: "efficiency", Type: codec.Uint16, Offset: 22, Gain: 100, Unit: "%"},
				{Path: "internalTemperature", Type: codec.Int16, Offset: 23, Gain: 10, Unit: "°C"},
				{Path: "insulationResistance", Type: codec.Uint16, Offset: 24, Gain: 1000, Unit: "MOhm"},
				{Path: "deviceStatus", Type: codec.Uint16, Offset: 25},
				{Path: "faultCode", Type: codec.Uint16, Offset: 26},
				{Path: "startupTime", Type: codec.Uint32, Offset: 27, Mapper: epochMapper},
				{Path: "shutdownTime", Type: codec.Uint32, Offset: 29, Mapper: epochMapper},
				{Path: "accumulatedEnergyYield", Type: codec.Uint32, Offset: 42, Gain: 100, Unit: "kWh"},
				{Path: "dailyEnergyYield", Type: codec.Uint32, Offset: 50, Gain: 100, Unit: "kWh", Store: state.StoreAlways},
			},
			PostHook: deriveInverterStatus,
		},
		{
			Name:        "pv",
			Address:     pvStringBase,
			Materialize: materializePVStrings,
			PostHook:    derivePVPower,
		},
		{
			Name:          "meter",
			Address:       37100,
			Length:        26,
			Requires:      FeatureMeter,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "meter.status", Type: codec.Uint16, Offset: 0},
				{Path: "meter.voltageL1", Type: codec.Int32, Offset: 1, Gain: 10, Unit: "V"},
				{Path: "meter.voltageL2", Type: codec.Int32, Offset: 3, Gain: 10, Unit: "V"},
				{Path: "meter.voltageL3", Type: codec.Int32, Offset: 5, Gain: 10, Unit: "V"},
				{Path: "meter.currentL1", Type: codec.Int32, Offset: 7, Gain: 100, Unit: "A"},
				{Path: "meter.currentL2", Type: codec.Int32, Offset: 9, Gain: 100, Unit: "A"},
				{Path: "meter.currentL3", Type: codec.Int32, Offset: 11, Gain: 100, Unit: "A"},
				{Path: "meter.activePower", Type: codec.Int32, Offset: 13, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
				{Path: "meter.reactivePower", Type: codec.Int32, Offset: 15, Gain: 1000, Unit: "kVar"},
				{Path: "meter.powerFactor", Type: codec.Int16, Offset: 17, Gain: 1000},
				{Path: "meter.gridFrequency", Type: codec.Int16, Offset: 18, Gain: 100, Unit: "Hz"},
				{Path: "meter.positiveActiveEnergy", Type: codec.Int32, Offset: 19, Gain: 100, Unit: "kWh"},
				{Path: "meter.reverseActiveEnergy", Type: codec.Int32, Offset: 21, Gain: 100, Unit: "kWh"},
				{Path: "meter.accumulatedReactivePower", Type: codec.Int32, Offset: 23, Gain: 100, Unit: "kVarh"},
				{Path: "meter.type", Type: codec.Uint16, Offset: 25},
			},
			PostHook: deriveMeterDirection,
		},
		{
			Name:          "battery",
			Address:       37000,
			Length:        27,
			Requires:      FeatureBattery,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "battery.unit1.runningStatus", Type: codec.Uint16, Offset: 0},
				{Path: "battery.unit1.chargeDischargePower", Type: codec.Int32, Offset: 1, Unit: "W", Store: state.StoreAlways},
				{Path: "battery.unit1.busVoltage", Type: codec.Uint16, Offset: 3, Gain: 10, Unit: "V"},
				{Path: "battery.unit1.SOC", Type: codec.Uint16, Offset: 4, Gain: 10, Unit: "%"},
				{Path: "battery.unit1.workingMode", Type: codec.Uint16, Offset: 6},
				{Path: "battery.unit1.ratedChargePower", Type: codec.Uint32, Offset: 7, Unit: "W"},
				{Path: "battery.unit1.ratedDischargePower", Type: codec.Uint32, Offset: 9, Unit: "W"},
				{Path: "battery.unit1.faultID", Type: codec.Uint16, Offset: 14},
				{Path: "battery.unit1.currentDayChargeCapacity", Type: codec.Uint32, Offset: 15, Gain: 100, Unit: "kWh"},
				{Path: "battery.unit1.currentDayDischargeCapacity", Type: codec.Uint32, Offset: 17, Gain: 100, Unit: "kWh"},
				{Path: "battery.unit1.busCurrent", Type: codec.Int16, Offset: 21, Gain: 10, Unit: "A"},
				{Path: "battery.unit1.internalTemperature", Type: codec.Int16, Offset: 22, Gain: 10, Unit: "°C"},
				{Path: "battery.unit1.remainingChargeDischargeTime", Type: codec.Uint16, Offset: 26, Unit: "min"},
			},
		},
		{
			Name:    "alarms",
			Address: 32008,
			Length:  3,
			Tier:    TierMedium,
			Fields: []Field{
				{Path: "alarm1", Type: codec.Uint16, Offset: 0},
				{Path: "alarm2", Type: codec.Uint16, Offset: 1},
				{Path: "alarm3", Type: codec.Uint16, Offset: 2},
			},
		},
		{
			Name:          "battery2",
			Address:       37738,
			Length:        15,
			Tier:          TierMedium,
			Requires:      FeatureBattery2,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "battery.unit2.SOC", Type: codec.Uint16, Offset: 0, Gain: 10, Unit: "%"},
				{Path: "battery.unit2.runningStatus", Type: codec.Uint16, Offset: 3},
				{Path: "battery.unit2.chargeDischargePower", Type: codec.Int32, Offset: 5, Unit: "W"},
				{Path: "battery.unit2.busVoltage", Type: codec.Uint16, Offset: 12, Gain: 10, Unit: "V"},
				{Path: "battery.unit2.internalTemperature", Type: codec.Int16, Offset: 14, Gain: 10, Unit: "°C"},
			},
		},
		{
			Name:          "storage",
			Address:       37758,
			Length:        30,
			Tier:          TierMedium,
			Requires:      FeatureBattery,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "battery.ratedCapacity", Type: codec.Uint32, Offset: 0, Unit: "Wh"},
				{Path: "battery.SOC", Type: codec.Uint16, Offset: 2, Gain: 10, Unit: "%"},
				{Path: "battery.runningStatus", Type: codec.Uint16, Offset: 4},
				{Path: "battery.busVoltage", Type: codec.Uint16, Offset: 5, Gain: 10, Unit: "V"},
				{Path: "battery.busCurrent", Type: codec.Int16, Offset: 6, Gain: 10, Unit: "A"},
				{Path: "battery.chargeDischargePower", Type: codec.Int32, Offset: 7, Unit: "W"},
				{Path: "battery.totalCharge", Type: codec.Uint32, Offset: 22, Gain: 100, Unit: "kWh"},
				{Path: "battery.totalDischarge", Type: codec.Uint32, Offset: 24, Gain: 100, Unit: "kWh"},
				{Path: "battery.currentDayChargeCapacity", Type: codec.Uint32, Offset: 26, Gain: 100, Unit: "kWh"},
				{Path: "battery.currentDayDischargeCapacity", Type: codec.Uint32, Offset: 28, Gain: 100, Unit: "kWh"},
			},
			PostHook: deriveBatteryPower,
		},
		{
			Name:          "identification",
			Address:       30000,
			Length:        75,
			Tier:          TierLow,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "info.model", Type: codec.String, Offset: 0, Length: 15},
				{Path: "info.serialNumber", Type: codec.String, Offset: 15, Length: 10},
				{Path: "info.productNumber", Type: codec.String, Offset: 25, Length: 10},
				{Path: "info.modelID", Type: codec.Uint16, Offset: 70},
				{Path: "info.numberPVStrings", Type: codec.Uint16, Offset: 71, Store: state.StoreNever},
				{Path: "info.numberMPPTrackers", Type: codec.Uint16, Offset: 72},
				{Path: "info.ratedPower", Type: codec.Uint32, Offset: 73, Gain: 1000, Unit: "kW"},
			},
		},
		{
			Name:          "meterProbe",
			Address:       37100,
			Length:        1,
			Tier:          TierLow,
			ReadInStandby: true,
			PostHook: func(d *Driver) {
				regs, _ := d.Registers().Get(37100, 1)
				d.SetFeature(FeatureMeter, len(regs) == 1 && regs[0] == 1)
			},
			ReadErrorHook: absentOnIllegalAddress(FeatureMeter),
		},
		{
			Name:          "batteryProbe",
			Address:       RegBatteryUnit1Model,
			Length:        1,
			Tier:          TierLow,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "battery.unit1.productModel", Type: codec.Uint16, Offset: 0},
			},
			PostHook: func(d *Driver) {
				m, ok := d.Number("battery.unit1.productModel")
				d.SetFeature(FeatureBattery, ok && m != 0)
			},
			ReadErrorHook: absentOnIllegalAddress(FeatureBattery | FeatureBattery2),
		},
		{
			Name:          "batterySettings",
			Address:       RegMaximumChargingPower,
			Length:        15,
			Tier:          TierLow,
			Requires:      FeatureBattery,
			ReadInStandby: true,
			Fields: []Field{
				{Path: "battery.maximumChargingPower", Type: codec.Uint32, Offset: 0, Unit: "W"},
				{Path: "battery.maximumDischargingPower", Type: codec.Uint32, Offset: 2, Unit: "W"},
				{Path: "battery.chargingCutoffCapacity", Type: codec.Uint16, Offset: 6, Gain: 10, Unit: "%"},
				{Path: "battery.dischargeCutoffCapacity", Type: codec.Uint16, Offset: 7, Gain: 10, Unit: "%"},
				{Path: "battery.workingModeSettings", Type: codec.Uint16, Offset: 11},
				{Path: "battery.chargeFromGridFunction", Type: codec.Uint16, Offset: 12},
				{Path: "battery.gridChargeCutoffSOC", Type: codec.Uint16, Offset: 13, Gain: 10, Unit: "%"},
				{Path: "battery.unit2.productModel", Type: codec.Uint16, Offset: 14},
			},
			PostHook: func(d *Driver) {
				m, ok := d.Number("battery.unit2.productModel")
				d.SetFeature(FeatureBattery2, ok && m != 0)
			},
		},
		{
			Name:    "activePowerControl",
			Address: RegActivePowerDerating,
			Length:  1,
			Tier:    TierLow,
			Fields: []Field{
				{Path: "activePowerControl.activePowerPercentageDerating", Type: codec.Int16, Offset: 0, Gain: 10, Unit: "%"},
			},
		},
	}
}

// ---- hooks ----

func absentOnIllegalAddress(f Feature) func(d *Driver, err error) bool {
	return func(d *Driver, err error) bool {
		if !transport.IsIllegalAddress(err) {
			return false
		}
		d.SetFeature(f, false)
		return true
	}
}

// materializePVStrings expands the PV block once the string count is known.
func materializePVStrings(d *Driver) ([]Field, uint16, bool) {
	n, ok := d.Number("info.numberPVStrings")
	if !ok || n < 1 {
		return nil, 0, false
	}
	count := int(n)
	if count > maxPVStrings {
		count = maxPVStrings
	}

	fields := make([]Field, 0, 2*count)
	for i := 0; i < count; i++ {
		fields = append(fields,
			Field{Path: pvPath(i+1, "voltage"), Type: codec.Int16, Offset: uint16(2 * i), Gain: 10, Unit: "V"},
			Field{Path: pvPath(i+1, "current"), Type: codec.Int16, Offset: uint16(2*i + 1), Gain: 100, Unit: "A"},
		)
	}
	return fields, uint16(2 * count), true
}

func pvPath(n int, name string) string {
	return fmt.Sprintf("string.PV%d.%s", n, name)
}

func derivePVPower(d *Driver) {
	n, ok := d.Number("info.numberPVStrings")
	if !ok {
		return
	}
	count := int(n)
	if count > maxPVStrings {
		count = maxPVStrings
	}
	for i := 1; i <= count; i++ {
		v, okV := d.Number(pvPath(i, "voltage"))
		a, okA := d.Number(pvPath(i, "current"))
		if !okV || !okA {
			continue
		}
		d.Set(pvPath(i, "power"), state.Round(v*a), state.StoreIfChanged)
	}
}

func deriveInverterStatus(d *Driver) {
	code, ok := d.Number("deviceStatus")
	if !ok {
		return
	}
	d.Set("derived.deviceStatus", StatusText(int(code)), state.StoreIfChanged)
	d.Set("derived.standby", IsStandby(int(code)), state.StoreIfChanged)
}

// deriveMeterDirection splits the signed meter power. Positive is feed-in.
func deriveMeterDirection(d *Driver) {
	p, ok := d.Number("meter.activePower")
	if !ok {
		return
	}
	feedIn, supply := 0.0, 0.0
	if p > 0 {
		feedIn = p
	} else {
		supply = -p
	}
	d.Set("meter.derived.feedinPower", feedIn, state.StoreIfChanged)
	d.Set("meter.derived.supplyPower", supply, state.StoreIfChanged)
}

// deriveBatteryPower splits the signed battery power. Positive is charging.
func deriveBatteryPower(d *Driver) {
	p, ok := d.Number("battery.chargeDischargePower")
	if !ok {
		return
	}
	charge, discharge := 0.0, 0.0
	if p > 0 {
		charge = p
	} else {
		discharge = -p
	}
	d.Set("battery.derived.chargePower", charge, state.StoreIfChanged)
	d.Set("battery.derived.dischargePower", discharge, state.StoreIfChanged)
}

func epochMapper(v any) (any, error) {
	n, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("epoch: %T", v)
	}
	if n == 0 {
		return "", nil
	}
	return time.Unix(int64(n), 0).UTC().Format(time.RFC3339), nil
}
