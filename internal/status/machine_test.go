package status

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// fakeScheduler drives timers from a manual clock.
type fakeScheduler struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{when: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Now() time.Time { return s.now }

// advance moves the clock and fires due timers, including timers armed
// by the callbacks themselves.
func (s *fakeScheduler) advance(d time.Duration) {
	s.now = s.now.Add(d)
	for {
		fired := false
		for _, t := range s.timers {
			if t.stopped || t.fired || t.when.After(s.now) {
				continue
			}
			t.fired = true
			fired = true
			t.fn()
		}
		if !fired {
			return
		}
	}
}

func TestIdleFlipsAwayWhenHidden(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetHidden(true)
	s.advance(IdleAfter)

	if got := m.Status(); got != models.StatusAway {
		t.Fatalf("expected away, got %s", got)
	}
}

func TestIdleRequiresHidden(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	s.advance(IdleAfter * 2)

	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("visible tab flipped to %s", got)
	}
}

func TestActivityResetsIdleTimer(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetHidden(true)
	s.advance(6 * time.Minute)
	m.Activity()
	s.advance(6 * time.Minute)

	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("activity did not reset idle timer, got %s", got)
	}

	s.advance(4 * time.Minute)
	if got := m.Status(); got != models.StatusAway {
		t.Fatalf("expected away after full idle period, got %s", got)
	}
}

func TestActivityReturnsToActive(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetHidden(true)
	s.advance(IdleAfter)
	if m.Status() != models.StatusAway {
		t.Fatal("precondition failed")
	}

	m.SetHidden(false)
	m.Activity()
	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("expected active after activity, got %s", got)
	}
}

func TestManualWindowSuppressesAutomatic(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetManual(models.StatusAway)
	m.Activity() // inside the window: must not snap back to active
	if got := m.Status(); got != models.StatusAway {
		t.Fatalf("activity overrode manual status, got %s", got)
	}

	// Window expires; status is re-derived from current conditions.
	s.advance(ManualWindow)
	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("expected active after window expiry, got %s", got)
	}
}

func TestManualBusySticks(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetManual(models.StatusBusy)
	s.advance(ManualWindow * 3)
	m.Activity()
	m.SetHidden(true)
	s.advance(IdleAfter * 2)

	if got := m.Status(); got != models.StatusBusy {
		t.Fatalf("busy did not stick, got %s", got)
	}

	// A new manual choice releases it.
	m.SetManual(models.StatusActive)
	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestManualExpiryDerivesAwayWhenIdle(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetHidden(true)
	m.SetManual(models.StatusActive)
	// Idle the whole window and beyond.
	s.advance(IdleAfter + time.Minute)

	if got := m.Status(); got != models.StatusAway {
		t.Fatalf("expected away after expiry with stale activity, got %s", got)
	}
}

func TestInvalidManualIgnored(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	m.SetManual(models.Status("invisible"))
	if got := m.Status(); got != models.StatusActive {
		t.Fatalf("invalid status applied: %s", got)
	}
}

func TestOnChangeCallback(t *testing.T) {
	s := newFakeScheduler()
	m := NewMachine(s, zerolog.Nop())
	defer m.Stop()

	var seen []models.Status
	m.OnChange(func(st models.Status) { seen = append(seen, st) })

	m.SetHidden(true)
	s.advance(IdleAfter)
	m.SetHidden(false)
	m.Activity()

	if len(seen) != 2 || seen[0] != models.StatusAway || seen[1] != models.StatusActive {
		t.Fatalf("unexpected transition sequence: %v", seen)
	}
}
