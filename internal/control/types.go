// internal/control/types.go
package control

import (
	"context"
	"errors"
)

// MaxPerProcess caps the events drained by one Process call.
const MaxPerProcess = 2

var (
	ErrUnknownControl = errors.New("control: unknown control")
	ErrNotNumeric     = errors.New("control: value is not numeric")
	ErrDomainOffline  = errors.New("control: sub-device not operational")
)

// Domain is the sub-device a control acts on.
type Domain uint8

const (
	DomainInverter Domain = iota
	DomainBattery
)

func (d Domain) String() string {
	if d == DomainBattery {
		return "battery"
	}
	return "inverter"
}

// Writer issues register writes on one unit of the shared link.
type Writer interface {
	WriteRegisters(ctx context.Context, addr uint16, regs []uint16) error
	WriteRegister(ctx context.Context, addr, value uint16) error
}

// Handler applies a validated value. It clamps to its own bounds before writing.
type Handler func(ctx context.Context, w Writer, value any) error

// Service is one writable control of a device.
type Service struct {
	ID      string // device relative state path, e.g. control.activePowerLimitPercent
	Numeric bool
	Domain  Domain
	Min     float64
	Max     float64
	Handler Handler
}

// Acker confirms an applied value to the external state store.
type Acker interface {
	Ack(ctx context.Context, id string, value any) error
}

// Event is a pending control request.
type Event struct {
	ID    string
	Value any
}
