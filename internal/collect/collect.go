// internal/collect/collect.go
package collect

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/state"
)

// Paths written by the collector.
const (
	PathInputPower             = "collected.inputPower"
	PathActivePower            = "collected.activePower"
	PathDailyEnergyYield       = "collected.dailyEnergyYield"
	PathAccumulatedEnergyYield = "collected.accumulatedEnergyYield"
	PathMeterActivePower       = "collected.meterActivePower"
	PathGridImportToday        = "collected.gridImportToday"
	PathGridExportToday        = "collected.gridExportToday"
)

// MaxGap is the longest sample spacing still integrated. Longer gaps
// (link down, process paused) contribute nothing.
const MaxGap = 5 * time.Minute

// staleTolerance absorbs rounding between the daily and accumulated yield registers.
const staleTolerance = 0.1

// Config is the runtime config of the collector.
type Config struct {
	Inverters []string // device names, in poll order
	Cache     *state.Cache
	Location  *time.Location // day boundaries, default time.Local
	Logger    zerolog.Logger
}

// Collector derives plant values across inverters after each high pass.
type Collector struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	day      string
	baseline map[string]float64 // accumulated yield at the start of day, per inverter

	lastAt    time.Time
	lastPower float64
	importKWh float64
	exportKWh float64
}

func New(cfg Config) (*Collector, error) {
	if cfg.Cache == nil {
		return nil, errors.New("collect: state cache required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Collector{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "collect").Logger(),
		baseline: make(map[string]float64),
	}, nil
}

// AfterPass implements the poller hook. Only high passes carry fresh power values.
func (c *Collector) AfterPass(tier driver.Tier, at time.Time) {
	if tier != driver.TierHigh {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollover(at)
	c.sums()
	c.integrate(at)
}

// rollover starts a new day: yield baselines are re-taken, energy counters zeroed.
func (c *Collector) rollover(at time.Time) {
	day := at.In(c.cfg.Location).Format("2006-01-02")
	if day == c.day {
		return
	}
	first := c.day == ""
	c.day = day
	c.importKWh, c.exportKWh = 0, 0

	if first {
		// started mid-day, baselines are taken lazily from the daily register
		return
	}
	for _, inv := range c.cfg.Inverters {
		if acc, ok := c.number(inv, "accumulatedEnergyYield"); ok {
			c.baseline[inv] = acc
		} else {
			delete(c.baseline, inv)
		}
	}
	c.log.Info().Str("day", day).Msg("new day, collected counters reset")
}

func (c *Collector) sums() {
	var (
		input, active, daily, acc     float64
		nInput, nActive, nDaily, nAcc int
	)

	for _, inv := range c.cfg.Inverters {
		if v, ok := c.number(inv, "inputPower"); ok {
			input += v
			nInput++
		}
		if v, ok := c.number(inv, "activePower"); ok {
			active += v
			nActive++
		}
		if v, ok := c.dailyYield(inv); ok {
			daily += v
			nDaily++
		}
		if v, ok := c.number(inv, "accumulatedEnergyYield"); ok {
			acc += v
			nAcc++
		}
	}

	c.set(PathInputPower, input, nInput)
	c.set(PathActivePower, active, nActive)
	c.set(PathDailyEnergyYield, daily, nDaily)
	c.set(PathAccumulatedEnergyYield, acc, nAcc)
}

// dailyYield is the reported daily yield, unless the inverter still reports
// yesterday's value after midnight; then it is accumulated minus baseline.
func (c *Collector) dailyYield(inv string) (float64, bool) {
	reported, ok := c.number(inv, "dailyEnergyYield")
	acc, okAcc := c.number(inv, "accumulatedEnergyYield")
	if !okAcc {
		return reported, ok
	}

	base, known := c.baseline[inv]
	if !known {
		base = acc
		if ok {
			base -= reported
		}
		c.baseline[inv] = base
	}

	derived := acc - base
	if derived < 0 {
		// counter reset or replaced inverter
		c.baseline[inv] = acc
		derived = 0
	}
	if !ok || reported > derived+staleTolerance {
		return state.Round(derived), true
	}
	return reported, true
}

// integrate adds the previous meter power over the elapsed time (left Riemann sum).
func (c *Collector) integrate(at time.Time) {
	var power float64
	var n int
	for _, inv := range c.cfg.Inverters {
		if v, ok := c.number(inv, "meter.activePower"); ok {
			power += v
			n++
		}
	}
	if n == 0 {
		return
	}
	c.set(PathMeterActivePower, power, n)

	if !c.lastAt.IsZero() {
		dt := at.Sub(c.lastAt)
		if dt > 0 && dt <= MaxGap {
			kWh := c.lastPower * dt.Hours()
			if kWh > 0 {
				c.exportKWh += kWh
			} else {
				c.importKWh -= kWh
			}
		}
	}
	c.lastAt, c.lastPower = at, power

	c.set(PathGridImportToday, c.importKWh, 1)
	c.set(PathGridExportToday, c.exportKWh, 1)
}

func (c *Collector) number(inv, p string) (float64, bool) {
	return c.cfg.Cache.Number(inv + "." + p)
}

func (c *Collector) set(p string, v float64, n int) {
	if n == 0 {
		return
	}
	c.cfg.Cache.Set(p, v, state.Options{Kind: state.KindNumber})
}
