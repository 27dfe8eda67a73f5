// internal/control/queue.go
package control

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tamzrod/sun2000-bridge/internal/state"
)

type service struct {
	Service
	errors int // consecutive handler failures, shared by all events of the service
}

// Config is the runtime config of one device's queue.
type Config struct {
	Device   string
	Services []Service

	// Ready reports whether the sub-device of a domain can take writes.
	// Nil means every domain is ready.
	Ready func(Domain) bool

	Acker  Acker
	Logger zerolog.Logger
}

// Queue holds the pending control events of one device. At most one event
// per service is pending; a newer value replaces the older one in place.
type Queue struct {
	cfg      Config
	log      zerolog.Logger
	services map[string]*service

	mu      sync.Mutex
	order   []string
	pending map[string]Event
}

// NewQueue creates a queue over a fixed service table.
func NewQueue(cfg Config) (*Queue, error) {
	q := &Queue{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("device", cfg.Device).Str("component", "control").Logger(),
		services: make(map[string]*service, len(cfg.Services)),
		pending:  make(map[string]Event),
	}
	for _, s := range cfg.Services {
		if s.ID == "" || s.Handler == nil {
			return nil, fmt.Errorf("control %s: service needs id and handler", cfg.Device)
		}
		if _, dup := q.services[s.ID]; dup {
			return nil, fmt.Errorf("control %s: duplicate service %s", cfg.Device, s.ID)
		}
		q.services[s.ID] = &service{Service: s}
	}
	return q, nil
}

// Services lists the service ids.
func (q *Queue) Services() []string {
	out := make([]string, 0, len(q.cfg.Services))
	for _, s := range q.cfg.Services {
		out = append(out, s.ID)
	}
	return out
}

// Set enqueues or refreshes a pending event. Acknowledged values are
// confirmations of earlier writes and are ignored.
func (q *Queue) Set(id string, value any, ack bool) error {
	if _, ok := q.services[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownControl, id)
	}
	if ack {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.pending[id]; !queued {
		q.order = append(q.order, id)
	}
	q.pending[id] = Event{ID: id, Value: value}
	return nil
}

// Pending is the number of queued events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Process applies at most MaxPerProcess events through w and returns how many
// were taken from the queue. Failed events go back to the queue for one
// more attempt on a later call. Process is driven by a single poll loop and
// is not safe for concurrent use with itself.
func (q *Queue) Process(ctx context.Context, w Writer) int {
	batch := q.take(MaxPerProcess)

	for _, ev := range batch {
		svc := q.services[ev.ID]
		log := q.log.With().Str("control", ev.ID).Logger()

		value, err := q.validate(svc, ev.Value)
		if err != nil {
			log.Warn().Err(err).Interface("value", ev.Value).Msg("control event discarded")
			continue
		}

		if err := svc.Handler(ctx, w, value); err != nil {
			svc.errors++
			if svc.errors > 1 {
				log.Warn().Err(err).Int("attempts", svc.errors).Msg("control write failed, event discarded")
				svc.errors = 0
				continue
			}
			log.Warn().Err(err).Msg("control write failed, will retry")
			q.requeue(ev)
			continue
		}

		svc.errors = 0
		log.Info().Interface("value", value).Msg("control applied")

		if q.cfg.Acker != nil {
			if err := q.cfg.Acker.Ack(ctx, ev.ID, value); err != nil {
				log.Warn().Err(err).Msg("control ack failed")
			}
		}
	}
	return len(batch)
}

func (q *Queue) take(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.order) {
		n = len(q.order)
	}
	out := make([]Event, 0, n)
	for _, id := range q.order[:n] {
		out = append(out, q.pending[id])
		delete(q.pending, id)
	}
	q.order = q.order[n:]
	return out
}

// requeue puts a failed event back unless a newer value arrived meanwhile.
func (q *Queue) requeue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, newer := q.pending[ev.ID]; newer {
		return
	}
	q.order = append([]string{ev.ID}, q.order...)
	q.pending[ev.ID] = ev
}

func (q *Queue) validate(svc *service, value any) (any, error) {
	if svc.Numeric {
		f, ok := toNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNotNumeric, value)
		}
		value = state.Round(f)
	}
	if svc.Domain != DomainInverter && q.cfg.Ready != nil && !q.cfg.Ready(svc.Domain) {
		return nil, fmt.Errorf("%w: %s", ErrDomainOffline, svc.Domain)
	}
	return value, nil
}

// toNumber accepts numbers, booleans and numeric strings.
func toNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
