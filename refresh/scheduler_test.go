package refresh

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimedesk/authclient/token"
	"github.com/golang-jwt/jwt/v5"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(opts ...Option) (*Scheduler, *ManualClock, *atomic.Int32) {
	clock := NewManualClock(epoch)
	var fired atomic.Int32
	s := New(func() { fired.Add(1) }, append([]Option{WithClock(clock)}, opts...)...)
	return s, clock, &fired
}

func TestArmFiresLeadTimeBeforeExpiry(t *testing.T) {
	s, clock, fired := newTestScheduler()

	delay := s.Arm(epoch.Add(10 * time.Minute))
	if delay != 9*time.Minute {
		t.Fatalf("expected delay 9m, got %v", delay)
	}
	if !s.Pending() {
		t.Fatalf("expected pending timer")
	}
	if d, ok := s.Deadline(); !ok || !d.Equal(epoch.Add(9*time.Minute)) {
		t.Fatalf("expected deadline at +9m, got %v (%v)", d, ok)
	}

	clock.Advance(9*time.Minute - time.Second)
	if fired.Load() != 0 {
		t.Fatalf("fired early")
	}
	clock.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("expected one fire, got %d", fired.Load())
	}
	if s.Pending() {
		t.Fatalf("expected no pending timer after fire")
	}

	clock.Advance(time.Hour)
	if fired.Load() != 1 {
		t.Fatalf("expected no retry, got %d fires", fired.Load())
	}
}

func TestArmInsideLeadWindowFiresImmediately(t *testing.T) {
	cases := []struct {
		name string
		exp  time.Time
	}{
		{"within lead", epoch.Add(30 * time.Second)},
		{"exactly lead", epoch.Add(DefaultLeadTime)},
		{"already expired", epoch.Add(-time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, clock, fired := newTestScheduler()
			if delay := s.Arm(tc.exp); delay != 0 {
				t.Fatalf("expected zero delay, got %v", delay)
			}
			if fired.Load() != 0 {
				t.Fatalf("callback must not run inside Arm")
			}
			clock.Advance(0)
			if fired.Load() != 1 {
				t.Fatalf("expected immediate fire, got %d", fired.Load())
			}
		})
	}
}

func TestRearmReplacesPendingTimer(t *testing.T) {
	s, clock, fired := newTestScheduler()

	s.Arm(epoch.Add(5 * time.Minute))
	s.Arm(epoch.Add(20 * time.Minute))
	if clock.Waiters() != 1 {
		t.Fatalf("expected exactly one live timer, got %d", clock.Waiters())
	}

	clock.Advance(4 * time.Minute)
	if fired.Load() != 0 {
		t.Fatalf("replaced timer fired")
	}
	clock.Advance(15 * time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("expected replacement to fire once, got %d", fired.Load())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s, clock, fired := newTestScheduler()

	s.Cancel()
	s.Arm(epoch.Add(2 * time.Minute))
	s.Cancel()
	s.Cancel()

	if s.Pending() {
		t.Fatalf("expected nothing pending after cancel")
	}
	if _, ok := s.Deadline(); ok {
		t.Fatalf("expected no deadline after cancel")
	}
	clock.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatalf("cancelled timer fired")
	}
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

type leakyClock struct {
	now     time.Time
	pending []func()
}

func (c *leakyClock) Now() time.Time { return c.now }

func (c *leakyClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.pending = append(c.pending, f)
	return leakyTimer{}
}

func TestStaleTimerNeverFires(t *testing.T) {
	clock := &leakyClock{now: epoch}
	var fired atomic.Int32
	s := New(func() { fired.Add(1) }, WithClock(clock))

	s.Arm(epoch.Add(time.Minute))
	s.Arm(epoch.Add(2 * time.Minute))
	s.Cancel()

	for _, f := range clock.pending {
		f()
	}
	if fired.Load() != 0 {
		t.Fatalf("expected stale timers to be ignored, got %d fires", fired.Load())
	}
}

func TestArmForUsesExpClaim(t *testing.T) {
	s, clock, fired := newTestScheduler(WithLeadTime(10 * time.Second))

	claims := &token.Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Minute)),
	}}
	delay, ok := s.ArmFor(claims)
	if !ok || delay != 50*time.Second {
		t.Fatalf("expected 50s delay, got %v (%v)", delay, ok)
	}

	if _, ok := s.ArmFor(&token.Claims{}); ok {
		t.Fatalf("expected claims without exp to be rejected")
	}
	if s.Pending() {
		t.Fatalf("expected claims without exp to cancel the pending timer")
	}
	clock.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatalf("expected no fire, got %d", fired.Load())
	}
}

func TestSystemClockFires(t *testing.T) {
	done := make(chan struct{})
	s := New(func() { close(done) })
	s.Arm(time.Now().Add(DefaultLeadTime))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected real timer to fire")
	}
}
