// internal/status/status_test.go
package status

import (
	"errors"
	"fmt"
	"testing"
	"time"

	gbmodbus "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/sun2000-bridge/internal/state"
)

type codedErr struct{ code uint16 }

func (e codedErr) Error() string { return fmt.Sprintf("coded %d", e.code) }
func (e codedErr) Code() uint16  { return e.code }

func TestErrorCode(t *testing.T) {
	cases := []struct {
		desc string
		err  error
		want uint16
	}{
		{desc: "nil", err: nil, want: 0},
		{desc: "generic", err: errors.New("boom"), want: 1},
		{desc: "modbus exception", err: fmt.Errorf("block: %w", &gbmodbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 6}), want: 6},
		{desc: "coder", err: fmt.Errorf("wrapped: %w", codedErr{code: 42}), want: 42},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrorCode(tc.err))
		})
	}
}

func TestTrackerLifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := NewTracker(0)
	assert.Equal(t, HealthUnknown, tr.Snapshot().Health)

	// ticks while unknown count as not OK
	assert.True(t, tr.Tick(now))
	assert.Equal(t, uint16(1), tr.Snapshot().SecondsInError)

	assert.True(t, tr.Observe(nil, now))
	assert.Equal(t, Snapshot{Health: HealthOK}, tr.Snapshot())
	assert.False(t, tr.Observe(nil, now))
	assert.False(t, tr.Tick(now))

	assert.True(t, tr.Observe(errors.New("i/o timeout"), now))
	assert.Equal(t, HealthError, tr.Snapshot().Health)
	assert.Equal(t, uint16(1), tr.Snapshot().LastErrorCode)

	for i := 0; i < 3; i++ {
		tr.Tick(now)
	}
	assert.Equal(t, uint16(3), tr.Snapshot().SecondsInError)

	assert.True(t, tr.Observe(nil, now))
	assert.Zero(t, tr.Snapshot().SecondsInError)
}

func TestTrackerSaturates(t *testing.T) {
	tr := NewTracker(0)
	tr.Observe(errors.New("x"), time.Now())
	tr.snap.SecondsInError = MaxSecondsInError

	assert.False(t, tr.Tick(time.Now()))
	assert.Equal(t, uint16(MaxSecondsInError), tr.Snapshot().SecondsInError)
}

func TestTrackerStale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := NewTracker(time.Minute)
	tr.Observe(nil, now)

	assert.False(t, tr.Tick(now.Add(30*time.Second)))
	assert.True(t, tr.Tick(now.Add(61*time.Second)))
	assert.Equal(t, HealthStale, tr.Snapshot().Health)
}

func TestPublish(t *testing.T) {
	var persisted []string
	c := state.New(state.SinkFunc(func(path string, _ any) { persisted = append(persisted, path) }))

	Publish(c, "inverter1", Snapshot{Health: HealthError, LastErrorCode: 2, SecondsInError: 5})

	h, ok := c.Number("inverter1.info.health")
	require.True(t, ok)
	assert.Equal(t, float64(HealthError), h)
	txt, _ := c.Value("inverter1.info.healthText")
	assert.Equal(t, "error", txt)
	assert.Len(t, persisted, 4)

	// unchanged snapshot persists nothing
	Publish(c, "inverter1", Snapshot{Health: HealthError, LastErrorCode: 2, SecondsInError: 5})
	assert.Len(t, persisted, 4)
}
