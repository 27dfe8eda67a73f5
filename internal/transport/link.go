// internal/transport/link.go
package transport

import (
	"errors"
	"fmt"
	"time"

	gbmodbus "github.com/goburrow/modbus"
)

// Link is one physical Modbus TCP connection.
// The session owns exactly one Link at a time and recreates it after a transport fault.
type Link interface {
	Connect() error
	Close() error
	SetUnitID(id uint8)
	SetTimeout(d time.Duration)

	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	WriteSingleRegister(addr, value uint16) error            // FC 6
	WriteMultipleRegisters(addr uint16, regs []uint16) error // FC 16
}

// LinkFactory creates a fresh, unconnected Link.
type LinkFactory func(endpoint string, timeout time.Duration) Link

// tcpLink implements Link on top of goburrow's TCP handler.
// Register geometry only: no decoding happens here.
type tcpLink struct {
	handler *gbmodbus.TCPClientHandler
	client  gbmodbus.Client
}

// NewTCPLink is the default LinkFactory.
func NewTCPLink(endpoint string, timeout time.Duration) Link {
	h := gbmodbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout
	return &tcpLink{
		handler: h,
		client:  gbmodbus.NewClient(h),
	}
}

func (l *tcpLink) Connect() error { return l.handler.Connect() }

func (l *tcpLink) Close() error { return l.handler.Close() }

func (l *tcpLink) SetUnitID(id uint8) { l.handler.SlaveId = id }

func (l *tcpLink) SetTimeout(d time.Duration) { l.handler.Timeout = d }

func (l *tcpLink) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	if qty == 0 {
		return nil, nil
	}
	raw, err := l.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, errors.New("modbus: read-registers byte count not even")
	}
	regs := unpackRegisters(raw)
	if len(regs) < int(qty) {
		return nil, fmt.Errorf("modbus: short read: got=%d want=%d", len(regs), qty)
	}
	return regs, nil
}

func (l *tcpLink) WriteSingleRegister(addr, value uint16) error {
	_, err := l.client.WriteSingleRegister(addr, value)
	return err
}

func (l *tcpLink) WriteMultipleRegisters(addr uint16, regs []uint16) error {
	_, err := l.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	return err
}

// ---- helpers (pure geometry) ----

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

// Modbus register memory order (BIG-ENDIAN)
func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
