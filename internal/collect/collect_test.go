// internal/collect/collect_test.go
package collect

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/state"
)

func newCollector(t *testing.T, inverters ...string) (*Collector, *state.Cache) {
	t.Helper()
	cache := state.New(nil)
	c, err := New(Config{Inverters: inverters, Cache: cache, Location: time.UTC, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c, cache
}

func set(cache *state.Cache, p string, v float64) {
	cache.Set(p, v, state.Options{Kind: state.KindNumber})
}

func number(t *testing.T, cache *state.Cache, p string) float64 {
	t.Helper()
	v, ok := cache.Number(p)
	require.True(t, ok, p)
	return v
}

var noon = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSumsAcrossInverters(t *testing.T) {
	c, cache := newCollector(t, "inv1", "inv2")
	set(cache, "inv1.inputPower", 3.0)
	set(cache, "inv2.inputPower", 2.5)
	set(cache, "inv1.activePower", 2.9)
	set(cache, "inv2.activePower", 2.4)
	set(cache, "inv1.accumulatedEnergyYield", 1000)
	set(cache, "inv2.accumulatedEnergyYield", 500)
	set(cache, "inv1.dailyEnergyYield", 12)
	set(cache, "inv2.dailyEnergyYield", 8)

	c.AfterPass(driver.TierHigh, noon)

	assert.Equal(t, 5.5, number(t, cache, PathInputPower))
	assert.Equal(t, 5.3, number(t, cache, PathActivePower))
	assert.Equal(t, 1500.0, number(t, cache, PathAccumulatedEnergyYield))
	assert.Equal(t, 20.0, number(t, cache, PathDailyEnergyYield), "mid-day start trusts the daily register")

	_, ok := cache.Number(PathMeterActivePower)
	assert.False(t, ok, "no meter, no grid values")
}

func TestOnlyHighPassesCollect(t *testing.T) {
	c, cache := newCollector(t, "inv1")
	set(cache, "inv1.inputPower", 3.0)

	c.AfterPass(driver.TierLow, noon)
	_, ok := cache.Number(PathInputPower)
	assert.False(t, ok)
}

func TestStaleDailyYieldAfterMidnight(t *testing.T) {
	c, cache := newCollector(t, "inv1")
	set(cache, "inv1.accumulatedEnergyYield", 1000)
	set(cache, "inv1.dailyEnergyYield", 30)
	c.AfterPass(driver.TierHigh, time.Date(2024, 6, 1, 23, 50, 0, 0, time.UTC))
	assert.Equal(t, 30.0, number(t, cache, PathDailyEnergyYield))

	// inverter asleep, still reporting yesterday
	c.AfterPass(driver.TierHigh, time.Date(2024, 6, 2, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, 0.0, number(t, cache, PathDailyEnergyYield))

	// woke up and reset its register
	set(cache, "inv1.accumulatedEnergyYield", 1001.5)
	set(cache, "inv1.dailyEnergyYield", 1.5)
	c.AfterPass(driver.TierHigh, time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 1.5, number(t, cache, PathDailyEnergyYield))
}

func TestStaleDailyYieldFallsBackToAccumulated(t *testing.T) {
	c, cache := newCollector(t, "inv1")
	set(cache, "inv1.accumulatedEnergyYield", 1000)
	set(cache, "inv1.dailyEnergyYield", 30)
	c.AfterPass(driver.TierHigh, time.Date(2024, 6, 1, 23, 50, 0, 0, time.UTC))

	// production started before the daily register was reset
	set(cache, "inv1.accumulatedEnergyYield", 1000.8)
	c.AfterPass(driver.TierHigh, time.Date(2024, 6, 2, 6, 0, 0, 0, time.UTC))
	assert.Equal(t, 0.8, number(t, cache, PathDailyEnergyYield))
}

func TestGridEnergyRiemannSum(t *testing.T) {
	c, cache := newCollector(t, "inv1")

	set(cache, "inv1.meter.activePower", -2) // importing 2 kW
	c.AfterPass(driver.TierHigh, noon)
	assert.Equal(t, 0.0, number(t, cache, PathGridImportToday))

	c.AfterPass(driver.TierHigh, noon.Add(3*time.Minute))
	assert.Equal(t, 0.1, number(t, cache, PathGridImportToday))

	set(cache, "inv1.meter.activePower", 4) // exporting from now on
	c.AfterPass(driver.TierHigh, noon.Add(6*time.Minute))
	assert.Equal(t, 0.2, number(t, cache, PathGridImportToday), "left sum uses the previous sample")
	assert.Equal(t, 0.0, number(t, cache, PathGridExportToday))

	c.AfterPass(driver.TierHigh, noon.Add(9*time.Minute))
	assert.Equal(t, 0.2, number(t, cache, PathGridExportToday))
	assert.Equal(t, 4.0, number(t, cache, PathMeterActivePower))
}

func TestGridEnergySkipsGapsAndResetsDaily(t *testing.T) {
	c, cache := newCollector(t, "inv1")
	set(cache, "inv1.meter.activePower", 6)

	c.AfterPass(driver.TierHigh, noon)
	c.AfterPass(driver.TierHigh, noon.Add(time.Hour))
	assert.Equal(t, 0.0, number(t, cache, PathGridExportToday), "one hour gap is not integrated")

	c.AfterPass(driver.TierHigh, noon.Add(time.Hour+time.Minute))
	assert.Equal(t, 0.1, number(t, cache, PathGridExportToday))

	next := time.Date(2024, 6, 2, 0, 0, 10, 0, time.UTC)
	c.AfterPass(driver.TierHigh, next.Add(-20*time.Second))
	c.AfterPass(driver.TierHigh, next)
	assert.Less(t, number(t, cache, PathGridExportToday), 0.1, "counter restarted at midnight")
}
