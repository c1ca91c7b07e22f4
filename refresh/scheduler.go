package refresh

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/crimedesk/authclient/token"
)

// DefaultLeadTime is how long before expiry the refresh fires.
const DefaultLeadTime = 60 * time.Second

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLeadTime overrides DefaultLeadTime. Negative values are ignored.
func WithLeadTime(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.lead = d
		}
	}
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler holds at most one pending refresh timer.
//
// Every Arm or Cancel advances a sequence number; a timer only invokes the
// callback if its sequence is still current, so a stale timer that lost the
// race with Stop never fires.
type Scheduler struct {
	fire   func()
	lead   time.Duration
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	timer    Timer
	deadline time.Time
}

// New returns a Scheduler that calls fire when an armed timer comes due.
func New(fire func(), opts ...Option) *Scheduler {
	s := &Scheduler{
		fire:   fire,
		lead:   DefaultLeadTime,
		clock:  SystemClock{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LeadTime returns the configured lead time.
func (s *Scheduler) LeadTime() time.Duration { return s.lead }

// Arm cancels any pending timer and schedules fire at expiresAt minus the
// lead time. A deadline already in the past fires as soon as the clock
// allows. The returned delay is never negative.
func (s *Scheduler) Arm(expiresAt time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq++
	seq := s.seq

	now := s.clock.Now()
	delay := expiresAt.Sub(now) - s.lead
	if delay < 0 {
		delay = 0
	}
	s.deadline = now.Add(delay)
	s.timer = s.clock.AfterFunc(delay, func() { s.onTimer(seq) })

	s.logger.Debug("refresh: timer armed", "delay", delay, "expires_at", expiresAt)
	return delay
}

// ArmFor arms from the access token's exp claim. Claims without exp cancel
// any pending timer and report false.
func (s *Scheduler) ArmFor(c *token.Claims) (time.Duration, bool) {
	exp, ok := token.ExpiresAt(c)
	if !ok {
		s.Cancel()
		return 0, false
	}
	return s.Arm(exp), true
}

// Cancel stops the pending timer, if any. Safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return
	}
	s.stopLocked()
	s.seq++
	s.logger.Debug("refresh: timer cancelled")
}

// Pending reports whether a timer is armed and has not fired.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Deadline returns when the pending timer will fire.
func (s *Scheduler) Deadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.deadline, true
}

func (s *Scheduler) onTimer(seq uint64) {
	s.mu.Lock()
	if seq != s.seq || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.deadline = time.Time{}
	s.mu.Unlock()

	if s.fire != nil {
		s.fire()
	}
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.deadline = time.Time{}
	}
}
