// internal/driver/driver.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/codec"
	"github.com/tamzrod/sun2000-bridge/internal/state"
	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

// Config is the runtime config of one logical device.
type Config struct {
	Name      string
	UnitID    uint8
	Model     Model
	Intervals Intervals

	Cache  *state.Cache
	Clock  clock.Clock
	Logger zerolog.Logger
}

// blockState is the per-driver runtime view of a shared Block.
type blockState struct {
	fields       []Field
	length       uint16
	materialized bool
	lastReadAt   time.Time
	attemptedAt  time.Time
}

// Driver polls one logical device and decodes its blocks into the state cache.
type Driver struct {
	cfg   Config
	log   zerolog.Logger
	clock clock.Clock
	cache *state.Cache
	regs  *HoldingRegisters

	mu       sync.Mutex
	blocks   []blockState
	features Feature
}

// New validates the model table and creates a driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Name == "" {
		return nil, errors.New("driver: name required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("driver: state cache required")
	}
	if len(cfg.Model.Blocks) == 0 {
		return nil, fmt.Errorf("driver %s: model %q has no blocks", cfg.Name, cfg.Model.Name)
	}
	for _, b := range cfg.Model.Blocks {
		if err := validateBlock(b.Fields, b.Length); err != nil {
			return nil, fmt.Errorf("driver %s: block %s: %w", cfg.Name, b.Name, err)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	d := &Driver{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("device", cfg.Name).Logger(),
		clock: cfg.Clock,
		cache: cfg.Cache,
		regs:  NewHoldingRegisters(),
	}

	d.blocks = make([]blockState, len(cfg.Model.Blocks))
	for i, b := range cfg.Model.Blocks {
		d.blocks[i] = blockState{
			fields:       b.Fields,
			length:       b.Length,
			materialized: b.Materialize == nil,
		}
	}
	return d, nil
}

// validateBlock checks that length covers every field.
func validateBlock(fields []Field, length uint16) error {
	for _, f := range fields {
		size := f.Size()
		if size == 0 {
			return fmt.Errorf("field %s: %w: %q", f.Path, codec.ErrUnknownType, f.Type)
		}
		if uint32(f.Offset)+uint32(size) > uint32(length) {
			return fmt.Errorf("field %s: offset %d size %d exceeds length %d", f.Path, f.Offset, size, length)
		}
	}
	return nil
}

// ---- accessors ----

func (d *Driver) Name() string                 { return d.cfg.Name }
func (d *Driver) UnitID() uint8                { return d.cfg.UnitID }
func (d *Driver) Model() string                { return d.cfg.Model.Name }
func (d *Driver) Registers() *HoldingRegisters { return d.regs }
func (d *Driver) Logger() zerolog.Logger       { return d.log }

// Path prefixes a device relative state path.
func (d *Driver) Path(p string) string { return d.cfg.Name + "." + p }

// Value reads a device relative state.
func (d *Driver) Value(p string) (any, bool) { return d.cache.Value(d.Path(p)) }

// Number reads a device relative numeric state.
func (d *Driver) Number(p string) (float64, bool) { return d.cache.Number(d.Path(p)) }

// Set writes a device relative state.
func (d *Driver) Set(p string, v any, policy state.Policy) bool {
	return d.cache.Set(d.Path(p), v, state.Options{Store: policy})
}

// SetFeature records whether a sub-device is attached.
func (d *Driver) SetFeature(f Feature, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	was := d.features&f != 0
	if present {
		d.features |= f
	} else {
		d.features &^= f
	}
	if was != present {
		d.log.Info().Stringer("feature", f).Bool("present", present).Msg("sub-device detection changed")
	}
}

// HasFeature is the raw detection flag, without the model strategy.
func (d *Driver) HasFeature(f Feature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features&f == f
}

// Present reports whether the sub-devices f are attached.
func (d *Driver) Present(f Feature) bool {
	if f == 0 {
		return true
	}
	if p := d.cfg.Model.Strategy.Present; p != nil {
		return p(d, f)
	}
	return d.HasFeature(f)
}

// ModbusAllowed is false while the device is in standby.
func (d *Driver) ModbusAllowed() bool {
	if fn := d.cfg.Model.Strategy.ModbusAllowed; fn != nil {
		return fn(d)
	}
	return true
}

// DeviceStatus is the readable device status, empty if the model has none.
func (d *Driver) DeviceStatus() string {
	if fn := d.cfg.Model.Strategy.DeviceStatus; fn != nil {
		return fn(d)
	}
	return ""
}

// Objects lists the states the driver currently publishes.
func (d *Driver) Objects() []Object {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Object
	for _, bs := range d.blocks {
		for _, f := range bs.fields {
			kind := state.KindNumber
			switch {
			case f.Mapper != nil:
				kind = state.KindAuto
			case f.Type == codec.String:
				kind = state.KindString
			}
			out = append(out, Object{Path: d.Path(f.Path), Kind: kind, Unit: f.Unit})
		}
	}
	return out
}

// LastReadAt is the time of the last successful read of the named block.
func (d *Driver) LastReadAt(name string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, b := range d.cfg.Model.Blocks {
		if b.Name == name {
			return d.blocks[i].lastReadAt, !d.blocks[i].lastReadAt.IsZero()
		}
	}
	return time.Time{}, false
}

// ---- update pipeline ----

// UpdateStates reads every block due in this pass, in declaration order.
// It returns the number of registers read. A transport fault aborts the pass
// and is returned; protocol exceptions are logged and the last one returned
// after the remaining blocks were tried.
func (d *Driver) UpdateStates(ctx context.Context, tr Transport, p Pass) (int, error) {
	var (
		read    int
		lastErr error
	)

	for i := range d.cfg.Model.Blocks {
		b := &d.cfg.Model.Blocks[i]

		if err := ctx.Err(); err != nil {
			return read, err
		}
		if !d.due(i, b, p) {
			continue
		}
		if !d.Present(b.Requires) {
			continue
		}
		if !b.ReadInStandby && !d.ModbusAllowed() {
			continue
		}

		// budget check between blocks, a read in flight is never interrupted
		if p.Budget > 0 && d.clock.Since(p.Start) > p.Budget-tr.Delay() {
			d.log.Debug().Str("block", b.Name).Stringer("tier", p.Tier).Msg("budget exhausted")
			break
		}

		fields, length, ok := d.materialize(i, b)
		if !ok {
			continue
		}

		d.mu.Lock()
		d.blocks[i].attemptedAt = d.clock.Now()
		d.mu.Unlock()

		regs, err := tr.ReadHoldingRegisters(ctx, b.Address, length)
		if err != nil {
			if b.ReadErrorHook != nil && b.ReadErrorHook(d, err) {
				continue
			}
			if transport.IsProtocolError(err) {
				d.log.Warn().Err(err).Str("block", b.Name).Uint16("address", b.Address).Msg("block read rejected")
				lastErr = fmt.Errorf("%s: %w", b.Name, err)
				continue
			}
			d.log.Warn().Err(err).Str("block", b.Name).Msg("block read failed, aborting pass")
			return read, fmt.Errorf("%s: %w", b.Name, err)
		}

		d.regs.Add(b.Address, regs)
		read += len(regs)

		d.mu.Lock()
		d.blocks[i].lastReadAt = d.clock.Now()
		d.mu.Unlock()

		d.decode(fields, regs)
		if b.PostHook != nil {
			b.PostHook(d)
		}
	}

	return read, lastErr
}

// due applies the tier rules to one block.
func (d *Driver) due(i int, b *Block, p Pass) bool {
	d.mu.Lock()
	last := d.blocks[i].lastReadAt
	attempted := d.blocks[i].attemptedAt
	d.mu.Unlock()

	// never twice in one cycle, failed attempts included
	if !attempted.IsZero() && !attempted.Before(p.CycleStart) {
		return false
	}

	if b.Tier == TierHigh {
		if p.Tier == TierHigh {
			return true
		}
		iv := b.Interval
		if iv <= 0 {
			iv = d.cfg.Intervals.High
		}
		return last.IsZero() || d.clock.Since(last) >= iv
	}

	if b.Tier != p.Tier {
		return false
	}
	return last.IsZero() || d.clock.Since(last) >= d.cfg.Intervals.of(b.Tier)
}

// materialize returns the effective fields of a block, expanding it once.
func (d *Driver) materialize(i int, b *Block) ([]Field, uint16, bool) {
	d.mu.Lock()
	bs := d.blocks[i]
	d.mu.Unlock()

	if bs.materialized {
		return bs.fields, bs.length, true
	}

	fields, length, ok := b.Materialize(d)
	if !ok {
		return nil, 0, false
	}
	if err := validateBlock(fields, length); err != nil {
		d.log.Error().Err(err).Str("block", b.Name).Msg("materialized block invalid")
		return nil, 0, false
	}

	d.mu.Lock()
	d.blocks[i].fields = fields
	d.blocks[i].length = length
	d.blocks[i].materialized = true
	d.mu.Unlock()

	d.log.Debug().Str("block", b.Name).Int("fields", len(fields)).Uint16("length", length).Msg("block materialized")
	return fields, length, true
}

func (d *Driver) decode(fields []Field, regs []uint16) {
	for _, f := range fields {
		end := int(f.Offset) + int(f.Size())
		if end > len(regs) {
			continue
		}

		v, err := codec.Decode(f.Type, regs[f.Offset:end])
		if err != nil {
			d.log.Warn().Err(err).Str("field", f.Path).Msg("decode failed")
			continue
		}

		if n, ok := v.(float64); ok && f.Gain != 0 && f.Gain != 1 {
			v = n / f.Gain
		}
		if f.Mapper != nil {
			v, err = f.Mapper(v)
			if err != nil {
				d.log.Warn().Err(err).Str("field", f.Path).Msg("mapper failed")
				continue
			}
		}

		d.cache.Set(d.Path(f.Path), v, state.Options{Store: f.Store})
	}
}
