// internal/transport/session.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// State is the connection state of the session.
type State uint8

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Config is the link configuration.
type Config struct {
	Endpoint     string
	UnitID       uint8
	Timeout      time.Duration
	Delay        time.Duration
	ConnectDelay time.Duration

	// AutoAdjust enables the adaptive delay search between MinDelay and MaxDelay.
	AutoAdjust bool
	MinDelay   time.Duration
	MaxDelay   time.Duration

	Logger  zerolog.Logger
	Clock   clock.Clock
	Metrics *Metrics
	NewLink LinkFactory
}

// Session owns the single physical connection shared by all logical devices.
// Every request passes through one FIFO lock, so at most one request is in flight.
type Session struct {
	cfg     Config
	log     zerolog.Logger
	clock   clock.Clock
	metrics *Metrics
	newLink LinkFactory

	lock *semaphore.Weighted

	// mu guards the fields below; it is never held across I/O.
	mu           sync.Mutex
	link         Link
	state        State
	unitID       uint8
	faulted      bool
	lastFault    error
	lastLength   uint16
	delay        time.Duration
	timeout      time.Duration
	connectDelay time.Duration
	tuner        *Tuner
	tuned        chan TuneResult
}

// New creates a closed session. Nothing is dialed until Open or the first request.
func New(cfg Config) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeoutFloor
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewLink == nil {
		cfg.NewLink = NewTCPLink
	}

	s := &Session{
		cfg:          cfg,
		log:          cfg.Logger.With().Str("endpoint", cfg.Endpoint).Logger(),
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		newLink:      cfg.NewLink,
		lock:         semaphore.NewWeighted(1),
		unitID:       cfg.UnitID,
		delay:        cfg.Delay,
		timeout:      cfg.Timeout,
		connectDelay: cfg.ConnectDelay,
		tuned:        make(chan TuneResult, 1),
	}

	if cfg.AutoAdjust {
		s.tuner = NewTuner(cfg.Delay, cfg.MinDelay, cfg.MaxDelay)
		s.applyTuner()
	}
	s.metrics.setDelay(s.delay)

	return s, nil
}

// ---- accessors ----

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Delay is the current inter-request delay.
func (s *Session) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Tuned delivers the adaptive tuning result once tuning stops.
func (s *Session) Tuned() <-chan TuneResult { return s.tuned }

// SetID sets the unit id used by the session's own request methods.
func (s *Session) SetID(id uint8) {
	s.mu.Lock()
	s.unitID = id
	s.mu.Unlock()
}

// Unit returns a request handle bound to one unit id.
func (s *Session) Unit(id uint8) *Unit {
	return &Unit{s: s, id: id}
}

// ---- lifecycle ----

// Open connects, retrying with backoff. repeat limits the number of attempts (0 = unlimited).
func (s *Session) Open(ctx context.Context, repeat int) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	if s.State() == StateOpen {
		return nil
	}

	s.mu.Lock()
	b := &connectBackOff{base: s.connectDelay}
	s.mu.Unlock()

	var bo backoff.BackOff = b
	if repeat > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(repeat-1))
	}
	bo = backoff.WithContext(bo, ctx)

	op := func() error {
		err := s.connect()
		b.last = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("modbus connect failed")
	}

	return backoff.RetryNotify(op, bo, notify)
}

// Close tears the link down. Subsequent requests reconnect.
func (s *Session) Close() error {
	if err := s.lock.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tuner != nil && s.tuner.Active() {
		s.tuner.Stop()
	}
	return s.teardownLocked()
}

// ---- requests ----

func (s *Session) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return s.Unit(s.currentID()).ReadHoldingRegisters(ctx, addr, qty)
}

func (s *Session) WriteRegisters(ctx context.Context, addr uint16, regs []uint16) error {
	return s.Unit(s.currentID()).WriteRegisters(ctx, addr, regs)
}

func (s *Session) WriteRegister(ctx context.Context, addr, value uint16) error {
	return s.Unit(s.currentID()).WriteRegister(ctx, addr, value)
}

func (s *Session) currentID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unitID
}

// do runs one request under the global lock.
func (s *Session) do(ctx context.Context, op string, unit uint8, length uint16, fn func(Link) error) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	if err := s.ensureOpen(ctx); err != nil {
		s.metrics.request(op, "fault")
		return err
	}

	s.mu.Lock()
	wait := Pacing(s.delay, s.lastLength)
	link := s.link
	s.mu.Unlock()

	if err := s.sleep(ctx, wait); err != nil {
		return err
	}

	link.SetUnitID(unit)
	err := fn(link)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLength = length

	switch {
	case err == nil:
		s.metrics.request(op, "ok")
		s.observeLocked(true)
	case IsProtocolError(err):
		s.metrics.request(op, "exception")
		if IsBusy(err) {
			s.observeLocked(false)
		}
	default:
		s.metrics.request(op, "fault")
		s.observeLocked(false)
		s.log.Warn().Err(err).Uint8("unit", unit).Str("op", op).Msg("transport fault, closing link")
		_ = s.teardownLocked()
		s.faulted = true
		s.lastFault = err
	}
	return err
}

// ensureOpen recreates and connects the link if needed. Called with the lock held.
func (s *Session) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	open := s.state == StateOpen && s.link != nil
	faulted := s.faulted
	b := &connectBackOff{base: s.connectDelay, last: s.lastFault}
	s.mu.Unlock()

	if open {
		return nil
	}
	if faulted {
		if err := s.sleep(ctx, b.NextBackOff()); err != nil {
			return err
		}
	}
	return s.connect()
}

// connect makes one connection attempt on a fresh link. Called with the lock held.
func (s *Session) connect() error {
	s.mu.Lock()
	_ = s.teardownLocked()
	s.state = StateConnecting
	link := s.newLink(s.cfg.Endpoint, s.timeout)
	reconnect := s.faulted
	s.mu.Unlock()

	err := link.Connect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		_ = link.Close()
		s.state = StateClosed
		err = fmt.Errorf("transport: connect %s: %w", s.cfg.Endpoint, err)
		if s.faulted {
			s.lastFault = err
		}
		return err
	}

	s.link = link
	s.state = StateOpen
	s.faulted = false
	s.lastFault = nil
	if reconnect {
		s.metrics.reconnect()
	}
	s.log.Debug().Msg("modbus link open")
	return nil
}

func (s *Session) teardownLocked() error {
	s.state = StateClosed
	if s.link == nil {
		return nil
	}
	err := s.link.Close()
	s.link = nil
	return err
}

// observeLocked feeds one request outcome into the tuner.
func (s *Session) observeLocked(ok bool) {
	if s.tuner == nil || !s.tuner.Active() {
		return
	}

	var changed bool
	if ok {
		changed = s.tuner.Success()
	} else {
		changed = s.tuner.Failure()
	}
	if changed {
		s.applyTuner()
	}

	if !s.tuner.Active() {
		res := <-s.tuner.Done()
		s.delay = res.Delay
		s.timeout = res.Timeout
		s.connectDelay = res.ConnectDelay
		if s.link != nil {
			s.link.SetTimeout(s.timeout)
		}
		s.metrics.setDelay(s.delay)

		ev := s.log.Info()
		msg := "adaptive delay converged"
		if !res.Converged {
			ev = s.log.Warn()
			msg = "adaptive delay did not converge"
		}
		ev.Dur("delay", res.Delay).Dur("timeout", res.Timeout).Int("levels", res.Levels).Msg(msg)

		select {
		case s.tuned <- res:
		default:
		}
	}
}

func (s *Session) applyTuner() {
	s.delay = s.tuner.Delay()
	s.timeout = s.tuner.Timeout()
	s.connectDelay = s.tuner.ConnectDelay()
	if s.link != nil {
		s.link.SetTimeout(s.timeout)
	}
	s.metrics.setDelay(s.delay)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := s.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- unit handle ----

// Unit issues requests for one unit id through the shared session.
type Unit struct {
	s  *Session
	id uint8
}

func (u *Unit) ID() uint8 { return u.id }

// Delay exposes the session's current inter-request delay.
func (u *Unit) Delay() time.Duration { return u.s.Delay() }

func (u *Unit) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	var out []uint16
	err := u.s.do(ctx, "read", u.id, qty, func(l Link) error {
		regs, err := l.ReadHoldingRegisters(addr, qty)
		out = regs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *Unit) WriteRegisters(ctx context.Context, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	return u.s.do(ctx, "write", u.id, uint16(len(regs)), func(l Link) error {
		return l.WriteMultipleRegisters(addr, regs)
	})
}

func (u *Unit) WriteRegister(ctx context.Context, addr, value uint16) error {
	return u.s.do(ctx, "write", u.id, 1, func(l Link) error {
		return l.WriteSingleRegister(addr, value)
	})
}

// ---- reconnect backoff ----

// connectBackOff waits base between attempts, ten times longer while the host is unreachable.
type connectBackOff struct {
	base time.Duration
	last error
}

func (b *connectBackOff) NextBackOff() time.Duration {
	if IsUnreachable(b.last) {
		return 10 * b.base
	}
	return b.base
}

func (b *connectBackOff) Reset() { b.last = nil }
