// internal/store/store.go
package store

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrTimeout = errors.New("store: operation timed out")
	ErrClosed  = errors.New("store: closed")
)

// State is one persisted value. Ack=false marks a command that is not applied yet.
type State struct {
	Val any   `json:"val"`
	Ack bool  `json:"ack"`
	Ts  int64 `json:"ts"` // unix milliseconds
}

// Object declares a state: type, unit and whether it accepts commands.
type Object struct {
	Type  string   `json:"type"` // number | string | boolean | mixed
	Unit  string   `json:"unit,omitempty"`
	Write bool     `json:"write"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// Handler receives state changes of subscribed paths.
type Handler func(path string, s State)

// Store is the host persistence collaborator.
type Store interface {
	GetState(ctx context.Context, path string) (State, bool, error)
	SetState(ctx context.Context, path string, s State) error
	// ExtendObject is idempotent.
	ExtendObject(ctx context.Context, path string, o Object) error
	// SubscribeStates registers h for paths matching pattern ('*' wildcard).
	SubscribeStates(pattern string, h Handler) error
}

// Match reports whether a dotted state path matches a subscription pattern.
// A trailing ".*" matches any depth.
func Match(pattern, p string) bool {
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(p, strings.TrimSuffix(pattern, "*"))
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}
