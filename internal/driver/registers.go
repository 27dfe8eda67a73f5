// internal/driver/registers.go
package driver

import "sync"

// HoldingRegisters is the per-driver register image.
// An address only changes through a completed read or write of that address.
type HoldingRegisters struct {
	mu   sync.RWMutex
	regs map[uint16]uint16
}

func NewHoldingRegisters() *HoldingRegisters {
	return &HoldingRegisters{regs: make(map[uint16]uint16)}
}

// Get returns n registers from addr. ok is false if any of them was never seen.
func (h *HoldingRegisters) Get(addr, n uint16) ([]uint16, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]uint16, n)
	for i := uint16(0); i < n; i++ {
		v, ok := h.regs[addr+i]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Add stores values starting at addr.
func (h *HoldingRegisters) Add(addr uint16, values []uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, v := range values {
		h.regs[addr+uint16(i)] = v
	}
}

// Len is the number of known addresses.
func (h *HoldingRegisters) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.regs)
}
