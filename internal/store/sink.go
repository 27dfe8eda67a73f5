// internal/store/sink.go
package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Sink adapts a Store to the state cache. Values are written acknowledged,
// undeclared paths get an object on first write.
type Sink struct {
	store   Store
	log     zerolog.Logger
	clock   clock.Clock
	timeout time.Duration

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewSink(s Store, log zerolog.Logger, c clock.Clock) *Sink {
	if c == nil {
		c = clock.New()
	}
	return &Sink{
		store:    s,
		log:      log,
		clock:    c,
		timeout:  5 * time.Second,
		declared: make(map[string]struct{}),
	}
}

// Declare extends an object and remembers it.
func (s *Sink) Declare(ctx context.Context, path string, o Object) error {
	if err := s.store.ExtendObject(ctx, path, o); err != nil {
		return err
	}
	s.mu.Lock()
	s.declared[path] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Sink) Persist(path string, value any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	_, known := s.declared[path]
	s.mu.Unlock()

	if !known {
		if err := s.Declare(ctx, path, Object{Type: TypeOf(value)}); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("declare object failed")
		}
	}

	st := State{Val: value, Ack: true, Ts: s.clock.Now().UnixMilli()}
	if err := s.store.SetState(ctx, path, st); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("persist state failed")
	}
}

// TypeOf names the object type of a value.
func TypeOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, uint16, uint32, uint64:
		return "number"
	default:
		return "mixed"
	}
}
