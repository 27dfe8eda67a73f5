// internal/control/writer.go
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/store"
)

// mirrorWriter copies every successful write into the driver's register map,
// so proxy reads see the new value before the next poll.
type mirrorWriter struct {
	w    Writer
	regs *driver.HoldingRegisters
}

// Mirror wraps w. A nil register map returns w unchanged.
func Mirror(w Writer, regs *driver.HoldingRegisters) Writer {
	if regs == nil {
		return w
	}
	return &mirrorWriter{w: w, regs: regs}
}

func (m *mirrorWriter) WriteRegisters(ctx context.Context, addr uint16, regs []uint16) error {
	if err := m.w.WriteRegisters(ctx, addr, regs); err != nil {
		return err
	}
	m.regs.Add(addr, regs)
	return nil
}

func (m *mirrorWriter) WriteRegister(ctx context.Context, addr, value uint16) error {
	if err := m.w.WriteRegister(ctx, addr, value); err != nil {
		return err
	}
	m.regs.Add(addr, []uint16{value})
	return nil
}

// Binding ties a queue to the writer of its device. It is what the poll
// scheduler drives after each high pass.
type Binding struct {
	Queue  *Queue
	Writer Writer
}

func (b Binding) Process(ctx context.Context) int {
	return b.Queue.Process(ctx, b.Writer)
}

// StoreAcker writes {val, ack:true} back to the store under the device prefix.
type StoreAcker struct {
	Store  store.Store
	Device string
	Clock  clock.Clock
}

func (a StoreAcker) Ack(ctx context.Context, id string, value any) error {
	c := a.Clock
	if c == nil {
		c = clock.New()
	}
	st := store.State{Val: value, Ack: true, Ts: c.Now().UnixMilli()}
	if err := a.Store.SetState(ctx, a.Device+"."+id, st); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Subscribe routes store changes below <device>.control.* into q.
func Subscribe(s store.Store, q *Queue, log zerolog.Logger) error {
	prefix := q.cfg.Device + "."
	return s.SubscribeStates(prefix+"control.*", func(path string, st store.State) {
		id := strings.TrimPrefix(path, prefix)
		if err := q.Set(id, st.Val, st.Ack); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("control change ignored")
		}
	})
}

// Declare publishes writable objects for every service.
func Declare(ctx context.Context, s store.Store, q *Queue) error {
	for _, svc := range q.cfg.Services {
		o := store.Object{Type: "mixed", Write: true}
		if svc.Numeric {
			o.Type = "number"
			if svc.Min != 0 || svc.Max != 0 {
				lo, hi := svc.Min, svc.Max
				o.Min, o.Max = &lo, &hi
			}
		}
		if err := s.ExtendObject(ctx, q.cfg.Device+"."+svc.ID, o); err != nil {
			return err
		}
	}
	return nil
}
