// internal/driver/logger.go
package driver

import (
	"github.com/tamzrod/sun2000-bridge/internal/codec"
	"github.com/tamzrod/sun2000-bridge/internal/state"
)

// SDongle returns the SDongleA model. It aggregates every inverter behind it.
func SDongle() Model {
	return Model{
		Name: "sdongle",
		Blocks: []Block{
			{
				Name:    "total",
				Address: 37498,
				Length:  22,
				Fields: []Field{
					{Path: "totalInputPower", Type: codec.Uint32, Offset: 0, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
					{Path: "loadPower", Type: codec.Uint32, Offset: 16, Gain: 1000, Unit: "kW"},
					{Path: "totalActivePower", Type: codec.Int32, Offset: 18, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
					{Path: "totalReactivePower", Type: codec.Int32, Offset: 20, Gain: 1000, Unit: "kVar"},
				},
			},
		},
	}
}

// SmartLogger returns the SmartLogger3000 plant model.
func SmartLogger() Model {
	return Model{
		Name: "smartlogger",
		Blocks: []Block{
			{
				Name:    "plant",
				Address: 40521,
				Length:  46,
				Fields: []Field{
					{Path: "inputPower", Type: codec.Uint32, Offset: 0, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
					{Path: "activePower", Type: codec.Int32, Offset: 4, Gain: 1000, Unit: "kW", Store: state.StoreAlways},
					{Path: "powerFactor", Type: codec.Int16, Offset: 11, Gain: 1000},
					{Path: "reactivePower", Type: codec.Int32, Offset: 23, Gain: 1000, Unit: "kVar"},
					{Path: "totalEnergyYield", Type: codec.Uint32, Offset: 39, Gain: 10, Unit: "kWh"},
					{Path: "dailyEnergyYield", Type: codec.Uint32, Offset: 41, Gain: 10, Unit: "kWh"},
					{Path: "plantStatus", Type: codec.Uint16, Offset: 45},
				},
			},
			{
				Name:    "system",
				Address: 40000,
				Length:  2,
				Tier:    TierLow,
				Fields: []Field{
					{Path: "info.systemTime", Type: codec.Uint32, Offset: 0, Mapper: epochMapper},
				},
			},
		},
	}
}

// ModelFor maps a configured device kind to its model.
func ModelFor(kind string) (Model, bool) {
	switch kind {
	case "inverter":
		return Inverter(), true
	case "sdongle":
		return SDongle(), true
	case "smartlogger":
		return SmartLogger(), true
	default:
		return Model{}, false
	}
}
