// internal/store/memory.go
package store

import (
	"context"
	"reflect"
	"sync"
)

type subscription struct {
	pattern string
	h       Handler
}

// Memory is a process local Store. Used when no broker is configured and in tests.
type Memory struct {
	mu      sync.RWMutex
	states  map[string]State
	objects map[string]Object
	subs    []subscription
}

func NewMemory() *Memory {
	return &Memory{
		states:  make(map[string]State),
		objects: make(map[string]Object),
	}
}

func (m *Memory) GetState(_ context.Context, path string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[path]
	return s, ok, nil
}

// SetState stores s and notifies matching subscribers outside the lock.
func (m *Memory) SetState(_ context.Context, path string, s State) error {
	m.mu.Lock()
	m.states[path] = s
	var hs []Handler
	for _, sub := range m.subs {
		if Match(sub.pattern, path) {
			hs = append(hs, sub.h)
		}
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(path, s)
	}
	return nil
}

func (m *Memory) ExtendObject(_ context.Context, path string, o Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.objects[path]; ok && reflect.DeepEqual(prev, o) {
		return nil
	}
	m.objects[path] = o
	return nil
}

func (m *Memory) SubscribeStates(pattern string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscription{pattern: pattern, h: h})
	return nil
}

// Object returns a declared object.
func (m *Memory) Object(path string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[path]
	return o, ok
}
