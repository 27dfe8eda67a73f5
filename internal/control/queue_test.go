// internal/control/queue_test.go
package control

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	addr uint16
	regs []uint16
}

type fakeWriter struct {
	fail   int // remaining failures
	writes []write
}

func (f *fakeWriter) WriteRegisters(_ context.Context, addr uint16, regs []uint16) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("i/o timeout")
	}
	f.writes = append(f.writes, write{addr: addr, regs: append([]uint16(nil), regs...)})
	return nil
}

func (f *fakeWriter) WriteRegister(ctx context.Context, addr, value uint16) error {
	return f.WriteRegisters(ctx, addr, []uint16{value})
}

type ackRecorder map[string]any

func (a ackRecorder) Ack(_ context.Context, id string, value any) error {
	a[id] = value
	return nil
}

// counting returns a service whose handler counts calls and writes addr.
func counting(id string, addr uint16, calls *int) Service {
	return Service{
		ID:      id,
		Numeric: true,
		Handler: func(ctx context.Context, w Writer, v any) error {
			*calls++
			return w.WriteRegister(ctx, addr, uint16(v.(float64)))
		},
	}
}

func newQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	cfg.Device = "inv1"
	cfg.Logger = zerolog.Nop()
	q, err := NewQueue(cfg)
	require.NoError(t, err)
	return q
}

func TestNewQueueRejectsDuplicates(t *testing.T) {
	var n int
	_, err := NewQueue(Config{Services: []Service{counting("a", 1, &n), counting("a", 2, &n)}})
	assert.Error(t, err)

	_, err = NewQueue(Config{Services: []Service{{ID: "x"}}})
	assert.Error(t, err, "handler required")
}

func TestSetUnknownAndAck(t *testing.T) {
	var n int
	q := newQueue(t, Config{Services: []Service{counting("control.a", 1, &n)}})

	assert.ErrorIs(t, q.Set("control.nope", 1.0, false), ErrUnknownControl)

	require.NoError(t, q.Set("control.a", 1.0, true))
	assert.Zero(t, q.Pending(), "acknowledged values are not commands")

	require.NoError(t, q.Set("control.a", 1.0, false))
	require.NoError(t, q.Set("control.a", 2.0, false))
	assert.Equal(t, 1, q.Pending(), "newer value refreshes the pending event")

	w := &fakeWriter{}
	q.Process(context.Background(), w)
	require.Len(t, w.writes, 1)
	assert.Equal(t, []uint16{2}, w.writes[0].regs)
}

func TestProcessDrainsAtMostTwo(t *testing.T) {
	var a, b, c int
	acks := ackRecorder{}
	q := newQueue(t, Config{
		Services: []Service{counting("control.a", 1, &a), counting("control.b", 2, &b), counting("control.c", 3, &c)},
		Acker:    acks,
	})
	for _, id := range []string{"control.a", "control.b", "control.c"} {
		require.NoError(t, q.Set(id, 7.0, false))
	}

	w := &fakeWriter{}
	assert.Equal(t, 2, q.Process(context.Background(), w))
	assert.Equal(t, 1, q.Pending())
	assert.Equal(t, []int{1, 1, 0}, []int{a, b, c})
	assert.Len(t, acks, 2)

	assert.Equal(t, 1, q.Process(context.Background(), w))
	assert.Zero(t, q.Pending())
	assert.Equal(t, 1, c)
	assert.Equal(t, 7.0, acks["control.c"])
}

func TestFailedEventRetriedOnceThenDiscarded(t *testing.T) {
	var n int
	acks := ackRecorder{}
	q := newQueue(t, Config{Services: []Service{counting("control.a", 1, &n)}, Acker: acks})
	require.NoError(t, q.Set("control.a", 5.0, false))

	w := &fakeWriter{fail: 10}
	q.Process(context.Background(), w)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Pending(), "first failure keeps the event")

	q.Process(context.Background(), w)
	assert.Equal(t, 2, n)
	assert.Zero(t, q.Pending(), "second failure discards it")

	q.Process(context.Background(), w)
	assert.Equal(t, 2, n, "no third attempt")
	assert.Empty(t, acks)

	// the counter was reset with the discard
	w.fail = 0
	require.NoError(t, q.Set("control.a", 6.0, false))
	q.Process(context.Background(), w)
	assert.Equal(t, 6.0, acks["control.a"])
}

func TestFailureThenSuccessResetsCounter(t *testing.T) {
	var n int
	q := newQueue(t, Config{Services: []Service{counting("control.a", 1, &n)}})
	w := &fakeWriter{fail: 1}

	require.NoError(t, q.Set("control.a", 1.0, false))
	q.Process(context.Background(), w) // fails
	q.Process(context.Background(), w) // succeeds
	require.Len(t, w.writes, 1)

	w.fail = 1
	require.NoError(t, q.Set("control.a", 2.0, false))
	q.Process(context.Background(), w)
	assert.Equal(t, 1, q.Pending(), "a single failure after a success is retried")
}

func TestNumericValidation(t *testing.T) {
	var n int
	q := newQueue(t, Config{Services: []Service{counting("control.a", 1, &n)}})
	w := &fakeWriter{}

	require.NoError(t, q.Set("control.a", "abc", false))
	assert.Equal(t, 1, q.Process(context.Background(), w))
	assert.Zero(t, n, "non-numeric input never reaches the handler")
	assert.Zero(t, q.Pending())

	require.NoError(t, q.Set("control.a", " 12 ", false))
	q.Process(context.Background(), w)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint16{12}, w.writes[0].regs)
}

func TestBatteryDomainNeedsReadySubDevice(t *testing.T) {
	var n int
	ready := false
	svc := counting("control.battery.x", 1, &n)
	svc.Domain = DomainBattery
	q := newQueue(t, Config{
		Services: []Service{svc},
		Ready:    func(Domain) bool { return ready },
	})
	w := &fakeWriter{}

	require.NoError(t, q.Set("control.battery.x", 1.0, false))
	q.Process(context.Background(), w)
	assert.Zero(t, n)
	assert.Zero(t, q.Pending(), "discarded, not deferred")

	ready = true
	require.NoError(t, q.Set("control.battery.x", 1.0, false))
	q.Process(context.Background(), w)
	assert.Equal(t, 1, n)
}

func TestToNumber(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 1.5, want: 1.5, ok: true},
		{in: 3, want: 3, ok: true},
		{in: true, want: 1, ok: true},
		{in: "2.25", want: 2.25, ok: true},
		{in: "x", ok: false},
		{in: nil, ok: false},
		{in: []int{1}, ok: false},
	}
	for _, tc := range cases {
		got, ok := toNumber(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got)
		}
	}
}
