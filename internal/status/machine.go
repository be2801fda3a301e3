// Package status derives a user's presence status from input activity,
// tab visibility and manual overrides. One Machine per session.
package status

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

const (
	// IdleAfter is how long without input activity, with the tab hidden,
	// before the machine flips to away.
	IdleAfter = 10 * time.Minute
	// ManualWindow is how long a manual status choice suppresses
	// automatic transitions.
	ManualWindow = 5 * time.Minute
)

// Machine is the per-session status state machine. Automatic transitions
// (idle → away, activity → active) are suppressed inside the manual
// override window; a manual "busy" sticks until the user changes it.
type Machine struct {
	mu    sync.Mutex
	sched Scheduler
	log   zerolog.Logger

	status       models.Status
	hidden       bool
	lastActivity time.Time
	manualUntil  time.Time // zero when no override window is active
	manualBusy   bool

	idleTimer   Timer
	manualTimer Timer

	onChange func(models.Status)
}

// NewMachine creates a machine starting in active.
func NewMachine(sched Scheduler, log zerolog.Logger) *Machine {
	m := &Machine{
		sched:  sched,
		log:    log.With().Str("component", "status").Logger(),
		status: models.StatusActive,
	}
	m.lastActivity = sched.Now()
	m.resetIdleTimerLocked()
	return m
}

// OnChange registers the status-change callback, invoked outside the lock.
func (m *Machine) OnChange(fn func(models.Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Machine) Status() models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Activity records input activity (mouse, key, scroll, touch). Returns to
// active unless automatic transitions are suppressed.
func (m *Machine) Activity() {
	m.mu.Lock()
	m.lastActivity = m.sched.Now()
	m.resetIdleTimerLocked()
	if m.suppressedLocked() {
		m.mu.Unlock()
		return
	}
	changed := m.setLocked(models.StatusActive)
	fn := m.onChange
	st := m.status
	m.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
}

// SetHidden records tab visibility. Hiding does not itself change status;
// it arms the idle condition.
func (m *Machine) SetHidden(hidden bool) {
	m.mu.Lock()
	m.hidden = hidden
	m.resetIdleTimerLocked()
	m.mu.Unlock()
}

// SetManual applies a user-chosen status and opens the override window.
func (m *Machine) SetManual(s models.Status) {
	if !s.Valid() {
		return
	}
	m.mu.Lock()
	m.manualUntil = m.sched.Now().Add(ManualWindow)
	m.manualBusy = s == models.StatusBusy
	if m.manualTimer != nil {
		m.manualTimer.Stop()
	}
	m.manualTimer = m.sched.AfterFunc(ManualWindow, m.manualExpired)
	changed := m.setLocked(s)
	fn := m.onChange
	m.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

// Stop cancels outstanding timers.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	if m.manualTimer != nil {
		m.manualTimer.Stop()
	}
}

// suppressedLocked reports whether automatic transitions are currently
// suppressed: inside the override window, or manual busy.
func (m *Machine) suppressedLocked() bool {
	if m.manualBusy {
		return true
	}
	return !m.manualUntil.IsZero() && m.sched.Now().Before(m.manualUntil)
}

func (m *Machine) setLocked(s models.Status) bool {
	if m.status == s {
		return false
	}
	m.log.Debug().Str("from", string(m.status)).Str("to", string(s)).Msg("status transition")
	m.status = s
	return true
}

// resetIdleTimerLocked clears and recreates the idle timer. Timers never
// stack: every relevant state change passes through here.
func (m *Machine) resetIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = m.sched.AfterFunc(IdleAfter, m.idleExpired)
}

// idleExpired fires when IdleAfter elapses since the last timer reset.
func (m *Machine) idleExpired() {
	m.mu.Lock()
	idleFor := m.sched.Now().Sub(m.lastActivity)
	if idleFor < IdleAfter || !m.hidden || m.suppressedLocked() {
		m.mu.Unlock()
		return
	}
	changed := m.setLocked(models.StatusAway)
	fn := m.onChange
	m.mu.Unlock()
	if changed && fn != nil {
		fn(models.StatusAway)
	}
}

// manualExpired closes the override window and resumes automatic
// transitions, re-deriving the status from current activity. Manual busy
// is exempt: it holds until the user picks something else.
func (m *Machine) manualExpired() {
	m.mu.Lock()
	m.manualUntil = time.Time{}
	if m.manualBusy {
		m.mu.Unlock()
		return
	}
	next := models.StatusActive
	if m.hidden && m.sched.Now().Sub(m.lastActivity) >= IdleAfter {
		next = models.StatusAway
	}
	changed := m.setLocked(next)
	fn := m.onChange
	m.mu.Unlock()
	if changed && fn != nil {
		fn(next)
	}
}
