// internal/driver/inverter_test.go
package driver

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInverterMaterializesPVStrings(t *testing.T) {
	c := clock.NewMock()
	d, cache := newTestDriver(t, Inverter(), c)
	tr := newFakeTransport(c)

	tr.set(30071, 2)                                // two strings
	tr.set(32089, StatusOnGrid)                     // device status
	tr.set(pvStringBase, 4000, 850, 3900, 900)      // 400.0V 8.50A, 390.0V 9.00A
	tr.errs[37100] = illegalAddress                 // no meter
	tr.set(RegBatteryUnit1Model, 0)                 // no battery

	// first cycle: string count unknown, identification is low tier
	_, err := d.UpdateStates(context.Background(), tr, pass(c, TierHigh))
	require.NoError(t, err)
	assert.NotContains(t, tr.reads, uint16(pvStringBase))

	_, err = d.UpdateStates(context.Background(), tr, pass(c, TierLow))
	require.NoError(t, err)
	assert.Contains(t, tr.reads, uint16(30000))
	assert.False(t, d.Present(FeatureMeter))
	assert.False(t, d.Present(FeatureBattery))

	c.Add(10 * time.Second)
	tr.reads = nil
	_, err = d.UpdateStates(context.Background(), tr, pass(c, TierHigh))
	require.NoError(t, err)
	assert.Contains(t, tr.reads, uint16(pvStringBase))
	assert.NotContains(t, tr.reads, uint16(37000), "battery block needs a battery")

	v, ok := cache.Number("inverter.string.PV1.voltage")
	require.True(t, ok)
	assert.Equal(t, 400.0, v)
	p, ok := cache.Number("inverter.string.PV2.power")
	require.True(t, ok)
	assert.Equal(t, 3510.0, p)

	status, _ := cache.Value("inverter.derived.deviceStatus")
	assert.Equal(t, "On-grid", status)
	assert.Equal(t, "On-grid", d.DeviceStatus())
	assert.True(t, d.ModbusAllowed())

	var pvFields int
	for _, o := range d.Objects() {
		if len(o.Path) > len("inverter.string.") && o.Path[:len("inverter.string.")] == "inverter.string." {
			pvFields++
		}
	}
	assert.Equal(t, 4, pvFields)
}

func TestInverterStandbySkipsBlocks(t *testing.T) {
	c := clock.NewMock()
	d, _ := newTestDriver(t, Inverter(), c)
	tr := newFakeTransport(c)
	tr.set(30071, 1)
	tr.set(32089, StatusStandbyNoIrradiation)

	_, err := d.UpdateStates(context.Background(), tr, pass(c, TierLow))
	require.NoError(t, err)
	_, err = d.UpdateStates(context.Background(), tr, pass(c, TierHigh))
	require.NoError(t, err)

	assert.False(t, d.ModbusAllowed())

	c.Add(10 * time.Second)
	tr.reads = nil
	_, err = d.UpdateStates(context.Background(), tr, pass(c, TierHigh))
	require.NoError(t, err)
	assert.Contains(t, tr.reads, uint16(32064), "status block is read in standby")
	assert.NotContains(t, tr.reads, uint16(pvStringBase))
}

func TestInverterDetectsSubDevices(t *testing.T) {
	c := clock.NewMock()
	d, cache := newTestDriver(t, Inverter(), c)
	tr := newFakeTransport(c)
	tr.set(32089, StatusOnGrid)
	tr.set(37100, 1)                     // meter status normal
	tr.set(37113, 0xFFFF, 0xF830)        // -2.000 kW from grid
	tr.set(RegBatteryUnit1Model, 2)      // LUNA2000
	tr.set(RegBatteryUnit2Model, 0)      // single unit
	tr.set(37000, 2)                     // running
	tr.set(37765, 0, 1500)               // charging 1500 W

	_, err := d.UpdateStates(context.Background(), tr, pass(c, TierLow))
	require.NoError(t, err)
	assert.True(t, d.Present(FeatureMeter))
	assert.True(t, d.Present(FeatureBattery))
	assert.False(t, d.Present(FeatureBattery2))
	assert.True(t, BatteryOperational(d))

	c.Add(time.Minute)
	_, err = d.UpdateStates(context.Background(), tr, pass(c, TierHigh))
	require.NoError(t, err)
	_, err = d.UpdateStates(context.Background(), tr, Pass{Tier: TierMedium, CycleStart: c.Now(), Start: c.Now()})
	require.NoError(t, err)

	supply, ok := cache.Number("inverter.meter.derived.supplyPower")
	require.True(t, ok)
	assert.Equal(t, 2.0, supply)

	charge, ok := cache.Number("inverter.battery.derived.chargePower")
	require.True(t, ok)
	assert.Equal(t, 1500.0, charge)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Standby: no irradiation", StatusText(StatusStandbyNoIrradiation))
	assert.Equal(t, "Unknown (0x1234)", StatusText(0x1234))
	assert.True(t, IsStandby(StatusStandbyIrradiation))
	assert.False(t, IsStandby(StatusOnGrid))
}

func TestModelFor(t *testing.T) {
	for _, kind := range []string{"inverter", "sdongle", "smartlogger"} {
		m, ok := ModelFor(kind)
		require.True(t, ok, kind)
		assert.NotEmpty(t, m.Blocks)
	}
	_, ok := ModelFor("meter")
	assert.False(t, ok)
}
