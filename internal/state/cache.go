// internal/state/cache.go
package state

import (
	"math"
	"strings"
	"sync"
)

// Policy decides when a value is handed to the downstream sink.
type Policy uint8

const (
	// StoreIfChanged persists only when the value differs from the cached one.
	StoreIfChanged Policy = iota
	// StoreAlways persists every sample.
	StoreAlways
	// StoreNever keeps the value in memory only.
	StoreNever
)

func (p Policy) String() string {
	switch p {
	case StoreAlways:
		return "always"
	case StoreNever:
		return "never"
	default:
		return "ifChanged"
	}
}

// Kind is the declared value type of a state.
type Kind uint8

const (
	KindAuto Kind = iota
	KindNumber
	KindString
	KindBoolean
)

// Options controls one Set call.
type Options struct {
	Store Policy
	Kind  Kind
}

// Entry is the cached value of one state path.
type Entry struct {
	Path   string
	Value  any
	Stored bool // false when the last value was never handed to the sink
}

// Sink receives values that must be persisted downstream.
type Sink interface {
	Persist(path string, value any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(path string, value any)

func (f SinkFunc) Persist(path string, value any) { f(path, value) }

// Cache is the in-memory state map shared by poller, control and proxy readers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	sink    Sink
}

// New creates a cache. A nil sink drops every persist call.
func New(sink Sink) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		sink:    sink,
	}
}

// Get returns the cached entry for path.
func (c *Cache) Get(path string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Value is Get without the entry wrapper.
func (c *Cache) Value(path string) (any, bool) {
	e, ok := c.Get(path)
	return e.Value, ok
}

// Number returns the cached value as float64.
func (c *Cache) Number(path string) (float64, bool) {
	v, ok := c.Value(path)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Set caches value under path and forwards it to the sink according to opts.
// It reports whether the sink was called.
func (c *Cache) Set(path string, value any, opts Options) bool {
	kind := opts.Kind
	if kind == KindAuto {
		kind = kindOf(value)
	}

	if kind == KindNumber {
		f, ok := toFloat(value)
		if !ok || math.IsNaN(f) {
			return false
		}
		value = Round(f)
	}

	c.mu.Lock()
	e, exists := c.entries[path]
	if !exists {
		e = &Entry{Path: path}
		c.entries[path] = e
	}

	persist := false
	switch opts.Store {
	case StoreNever:
		e.Value = value
		e.Stored = false
	case StoreAlways:
		e.Value = value
		e.Stored = true
		persist = true
	default:
		if !exists || e.Value != value || !e.Stored {
			e.Value = value
			e.Stored = true
			persist = true
		}
	}
	c.mu.Unlock()

	if persist && c.sink != nil {
		c.sink.Persist(path, value)
	}
	return persist
}

// Snapshot copies all entries whose path starts with prefix.
func (c *Cache) Snapshot(prefix string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for p, e := range c.entries {
		if strings.HasPrefix(p, prefix) {
			out = append(out, *e)
		}
	}
	return out
}

// Round keeps three decimals, absorbing noise from gain division.
func Round(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	default:
		if _, ok := toFloat(v); ok {
			return KindNumber
		}
		return KindAuto
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
