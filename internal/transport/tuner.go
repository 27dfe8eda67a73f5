// internal/transport/tuner.go
package transport

import "time"

// Tuning constants. Changing them changes link behaviour in the field.
const (
	SuccessesPerLevel  = 10
	MaxSuccessLevels   = 100
	MinConvergedLevels = 10
	ConvergedGap       = 100 * time.Millisecond

	timeoutFactor      = 5.0
	timeoutFloor       = 10 * time.Second
	connectDelayFactor = 1.5
	connectDelayFloor  = 2 * time.Second
)

// TuneResult is published once when the tuner stops.
type TuneResult struct {
	Converged    bool
	Levels       int
	Delay        time.Duration
	Timeout      time.Duration
	ConnectDelay time.Duration
}

// Tuner searches the smallest inter-request delay the device tolerates.
//
// Every SuccessesPerLevel consecutive successes form one success level: the
// delay steps down by 75% of the gap between the success boundary and the
// error boundary (the last failing delay), then the current delay becomes the
// success boundary. A failure steps up by the same gradient and records the
// failing delay as the error boundary. Until both boundaries are known the
// gradient is 10% of the maximum.
//
// Not safe for concurrent use; the session calls it under its own lock.
type Tuner struct {
	min, max time.Duration

	delay        time.Duration
	timeout      time.Duration
	connectDelay time.Duration

	successCounter int
	errorCounter   int
	successLevel   int

	successDelay time.Duration
	errorDelay   time.Duration
	hasSuccess   bool
	hasError     bool

	active bool
	done   chan TuneResult
}

// NewTuner starts tuning from delay within [min,max].
func NewTuner(delay, min, max time.Duration) *Tuner {
	if max < min {
		max = min
	}
	t := &Tuner{
		min:    min,
		max:    max,
		delay:  clampDuration(delay, min, max),
		active: true,
		done:   make(chan TuneResult, 1),
	}
	t.sync()
	return t
}

func (t *Tuner) Active() bool                { return t.active }
func (t *Tuner) Delay() time.Duration        { return t.delay }
func (t *Tuner) Timeout() time.Duration      { return t.timeout }
func (t *Tuner) ConnectDelay() time.Duration { return t.connectDelay }
func (t *Tuner) Levels() int                 { return t.successLevel }
func (t *Tuner) Errors() int                 { return t.errorCounter }

// Done delivers exactly one TuneResult when the tuner stops.
func (t *Tuner) Done() <-chan TuneResult { return t.done }

// Success records one successful request. It reports whether the delay changed.
func (t *Tuner) Success() bool {
	if !t.active {
		return false
	}

	t.successCounter++
	if t.successCounter < SuccessesPerLevel {
		return false
	}
	t.successCounter = 0
	t.successLevel++

	step := t.gradient()
	t.successDelay = t.delay
	t.hasSuccess = true

	if t.successLevel >= MinConvergedLevels && t.gap() < ConvergedGap {
		t.finish(true)
		return false
	}
	if t.successLevel >= MaxSuccessLevels {
		t.finish(false)
		return false
	}

	prev := t.delay
	t.delay = clampDuration(t.delay-step, t.lowerBound(), t.max)
	t.sync()
	return t.delay != prev
}

// Failure records one failed request. It reports whether the delay changed.
func (t *Tuner) Failure() bool {
	if !t.active {
		return false
	}

	t.errorCounter++
	t.successCounter = 0

	step := t.gradient()
	t.errorDelay = t.delay
	t.hasError = true
	if t.hasSuccess && t.successDelay <= t.errorDelay {
		// the old success boundary no longer holds
		t.hasSuccess = false
	}

	prev := t.delay
	t.delay = clampDuration(t.delay+step, t.min, t.max)
	t.sync()
	return t.delay != prev
}

// Stop ends tuning without a verdict. No result is published.
func (t *Tuner) Stop() { t.active = false }

func (t *Tuner) lowerBound() time.Duration {
	if t.hasError && t.errorDelay > t.min {
		return t.errorDelay
	}
	return t.min
}

func (t *Tuner) gap() time.Duration {
	g := t.successDelay - t.lowerBound()
	if g < 0 {
		g = -g
	}
	return g
}

func (t *Tuner) gradient() time.Duration {
	if !t.hasSuccess || !t.hasError {
		return t.max / 10
	}
	g := t.successDelay - t.errorDelay
	if g < 0 {
		g = -g
	}
	if g == 0 {
		return t.max / 10
	}
	return time.Duration(float64(g) * 0.75)
}

// sync keeps timeout and connect delay proportional to the delay.
func (t *Tuner) sync() {
	t.timeout = time.Duration(float64(t.delay) * timeoutFactor)
	if t.timeout < timeoutFloor {
		t.timeout = timeoutFloor
	}
	t.connectDelay = time.Duration(float64(t.delay) * connectDelayFactor)
	if t.connectDelay < connectDelayFloor {
		t.connectDelay = connectDelayFloor
	}
}

func (t *Tuner) finish(converged bool) {
	t.active = false
	if converged {
		t.delay = t.successDelay
		t.sync()
	}
	t.done <- TuneResult{
		Converged:    converged,
		Levels:       t.successLevel,
		Delay:        t.delay,
		Timeout:      t.timeout,
		ConnectDelay: t.connectDelay,
	}
}

// Pacing is the wait before a request: a fixed 40% of delay plus a share
// weighted by the size of the previous request (full at 50 registers).
func Pacing(delay time.Duration, lastLength uint16) time.Duration {
	if delay <= 0 {
		return 0
	}
	f := float64(lastLength) / 50
	if f > 1 {
		f = 1
	}
	return time.Duration(float64(delay) * (0.4 + 0.6*f))
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
