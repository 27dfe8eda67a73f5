// internal/transport/tuner_test.go
package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunerConvergesOnSuccesses(t *testing.T) {
	tu := NewTuner(3*time.Second, 0, 6*time.Second)

	prev := tu.Delay()
	requests := 0
	for tu.Active() {
		tu.Success()
		requests++
		require.LessOrEqual(t, tu.Delay(), prev, "delay must never grow on success")
		prev = tu.Delay()
		require.Less(t, requests, MaxSuccessLevels*SuccessesPerLevel+1)
	}

	res := <-tu.Done()
	assert.True(t, res.Converged)
	assert.GreaterOrEqual(t, res.Levels, MinConvergedLevels)
	assert.LessOrEqual(t, res.Levels, MaxSuccessLevels)
	assert.Less(t, res.Delay, 100*time.Millisecond)
	assert.Equal(t, timeoutFloor, res.Timeout)
	assert.Equal(t, connectDelayFloor, res.ConnectDelay)
}

func TestTunerStepsByTenPercentWithoutBoundaries(t *testing.T) {
	tu := NewTuner(3*time.Second, 0, 6*time.Second)

	for i := 0; i < SuccessesPerLevel-1; i++ {
		assert.False(t, tu.Success())
	}
	assert.Equal(t, 3*time.Second, tu.Delay())

	assert.True(t, tu.Success())
	assert.Equal(t, 2400*time.Millisecond, tu.Delay())

	for i := 0; i < SuccessesPerLevel; i++ {
		tu.Success()
	}
	assert.Equal(t, 1800*time.Millisecond, tu.Delay())
}

func TestTunerStepUsesBothBoundaries(t *testing.T) {
	tu := NewTuner(3*time.Second, 0, 6*time.Second)
	tu.hasError = true
	tu.errorDelay = time.Second
	tu.hasSuccess = true
	tu.successDelay = 3 * time.Second

	for i := 0; i < SuccessesPerLevel; i++ {
		tu.Success()
	}
	// 75% of the 2s gap
	assert.Equal(t, 1500*time.Millisecond, tu.Delay())
}

func TestTunerFindsErrorBoundary(t *testing.T) {
	const limit = time.Second
	tu := NewTuner(3*time.Second, 0, 6*time.Second)

	for i := 0; tu.Active(); i++ {
		require.Less(t, i, 100000)
		if tu.Delay() < limit {
			tu.Failure()
		} else {
			tu.Success()
		}
	}

	res := <-tu.Done()
	assert.True(t, res.Converged)
	assert.GreaterOrEqual(t, res.Delay, limit)
	assert.Less(t, res.Delay, limit+ConvergedGap*2)
	assert.LessOrEqual(t, res.Levels, MaxSuccessLevels)
	assert.Positive(t, tu.Errors())
}

func TestTunerGivesUpAfterMaxLevels(t *testing.T) {
	tu := NewTuner(3*time.Second, 0, 6*time.Second)
	// one level short of the cap with the boundaries still far apart
	tu.successLevel = MaxSuccessLevels - 1
	tu.hasError = true
	tu.errorDelay = 500 * time.Millisecond

	for i := 0; i < SuccessesPerLevel; i++ {
		tu.Success()
	}

	require.False(t, tu.Active())
	res := <-tu.Done()
	assert.False(t, res.Converged)
	assert.Equal(t, MaxSuccessLevels, res.Levels)
	assert.Equal(t, 3*time.Second, res.Delay)
}

func TestTunerFailureStepsUp(t *testing.T) {
	tu := NewTuner(time.Second, 0, 6*time.Second)

	changed := tu.Failure()
	assert.True(t, changed)
	assert.Equal(t, time.Second+600*time.Millisecond, tu.Delay())
	assert.Equal(t, timeoutFloor, tu.Timeout())
	assert.Equal(t, 2400*time.Millisecond, tu.ConnectDelay())
}

func TestTunerStopPublishesNothing(t *testing.T) {
	tu := NewTuner(time.Second, 0, 6*time.Second)
	tu.Stop()

	assert.False(t, tu.Active())
	assert.False(t, tu.Success())
	assert.False(t, tu.Failure())
	select {
	case <-tu.Done():
		t.Fatal("unexpected result")
	default:
	}
}

func TestPacing(t *testing.T) {
	cases := []struct {
		desc  string
		delay time.Duration
		last  uint16
		want  time.Duration
	}{
		{desc: "no delay", delay: 0, last: 50, want: 0},
		{desc: "first request", delay: time.Second, last: 0, want: 400 * time.Millisecond},
		{desc: "half payload", delay: time.Second, last: 25, want: 700 * time.Millisecond},
		{desc: "full payload", delay: time.Second, last: 50, want: time.Second},
		{desc: "capped payload", delay: time.Second, last: 120, want: time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, Pacing(tc.delay, tc.last))
		})
	}
}
