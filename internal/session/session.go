// Package session wires the full client stack for one user: remote
// store, state cache, mutation engine, change-event merger, presence
// tracker, status machine, notifier and call manager.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/calls"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/config"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/notify"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/presence"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/state"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/status"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// fetchTimeout bounds each bootstrap fetch. A fetch that misses the
// deadline falls back to defaults instead of leaving the session stuck
// in a loading state.
const fetchTimeout = 8 * time.Second

// Session is one user's live connection to the chat system.
type Session struct {
	store    store.RemoteStore
	cache    *state.Cache
	engine   *state.Engine
	merger   *state.Merger
	tracker  *presence.Tracker
	machine  *status.Machine
	notifier *notify.Notifier
	calls    *calls.Manager
	sched    status.Scheduler
	log      zerolog.Logger

	mu       sync.Mutex
	self     models.User
	settings models.Settings
	loaded   map[string]bool // channels whose history has been fetched
	ringers  map[string]status.Timer

	stopMerger func()
}

// New builds an unstarted session for the configured identity.
func New(cfg *config.Config, st store.RemoteStore, notifier *notify.Notifier, sched status.Scheduler, log zerolog.Logger) *Session {
	self := models.User{
		ID:     cfg.UserID,
		Name:   cfg.DisplayName,
		Avatar: cfg.AvatarURL,
		Status: models.StatusActive,
	}
	if self.ID == "" {
		self.ID = store.NewID()
	}

	cache := state.NewCache()
	s := &Session{
		store:    st,
		cache:    cache,
		engine:   state.NewEngine(st, cache, self, log),
		merger:   state.NewMerger(cache, log),
		tracker:  presence.NewTracker(st, self, log),
		machine:  status.NewMachine(sched, log),
		notifier: notifier,
		calls:    calls.NewManager(st, cache, self, log),
		sched:    sched,
		log:      log.With().Str("component", "session").Logger(),
		self:     self,
		settings: models.DefaultSettings(self.ID),
		loaded:   make(map[string]bool),
		ringers:  make(map[string]status.Timer),
	}
	return s
}

// Start bootstraps remote state and begins live reconciliation. Every
// fetch is deadline-guarded and falls back to defaults on failure, so
// Start degrades rather than blocks.
func (s *Session) Start(ctx context.Context) error {
	s.merger.OnMessage(s.handleIncoming)
	s.merger.OnSettings(s.handleSettings)
	s.merger.OnCall(s.handleCall)
	s.cache.OnChannelRemoved(s.handleChannelRemoved)
	s.machine.OnChange(s.handleStatusChange)

	stop, err := s.merger.Run(ctx, s.store)
	if err != nil {
		return err
	}
	s.stopMerger = stop

	s.bootstrap(ctx)

	if err := s.tracker.Start(ctx); err != nil {
		s.log.Warn().Err(err).Msg("global presence join failed")
	}
	s.SetActiveChannel(ctx, models.GeneralChannel)
	return nil
}

func (s *Session) bootstrap(ctx context.Context) {
	s.fetchProfile(ctx)
	s.fetchSettings(ctx)
	s.fetchChannels(ctx)
}

// fetchProfile loads the user's directory row, creating it on first
// run. Failures leave the configured identity in place.
func (s *Session) fetchProfile(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	s.mu.Lock()
	self := s.self
	s.mu.Unlock()

	rows, err := s.store.Select(fctx, store.TableUsers, store.Filter{"id": self.ID})
	if err != nil {
		s.log.Warn().Err(err).Msg("profile fetch failed, using configured identity")
		return
	}
	if len(rows) > 0 {
		var u models.User
		if err := json.Unmarshal(rows[0], &u); err == nil {
			// Remote profile wins for display fields; the session always
			// comes up active.
			u.Status = models.StatusActive
			s.mu.Lock()
			s.self = u
			s.mu.Unlock()
			self = u
		}
	}

	self.LastSeen = time.Now().UnixMilli()
	row, _ := json.Marshal(self)
	if len(rows) == 0 {
		if _, err := s.store.Insert(fctx, store.TableUsers, row); err != nil && !errors.Is(err, store.ErrConflict) {
			s.log.Warn().Err(err).Msg("profile create failed")
		}
	} else {
		if _, err := s.store.Update(fctx, store.TableUsers, self.ID, row); err != nil {
			s.log.Warn().Err(err).Msg("profile update failed")
		}
	}
}

func (s *Session) fetchSettings(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	s.mu.Lock()
	selfID := s.self.ID
	s.mu.Unlock()

	rows, err := s.store.Select(fctx, store.TableSettings, store.Filter{"id": selfID})
	if err != nil || len(rows) == 0 {
		if err != nil {
			s.log.Warn().Err(err).Msg("settings fetch failed, using defaults")
		}
		return // defaults already in place
	}
	var st models.Settings
	if err := json.Unmarshal(rows[0], &st); err != nil {
		s.log.Warn().Err(err).Msg("undecodable settings row, using defaults")
		return
	}
	s.mu.Lock()
	s.settings = st.Normalize()
	s.mu.Unlock()
}

func (s *Session) fetchChannels(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	rows, err := s.store.Select(fctx, store.TableChannels, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("channel fetch failed, starting with empty list")
		return
	}
	channels := make([]models.Channel, 0, len(rows))
	for _, row := range rows {
		var ch models.Channel
		if err := json.Unmarshal(row, &ch); err != nil {
			continue
		}
		channels = append(channels, ch)
	}
	s.cache.LoadChannels(channels)
}

// SetActiveChannel switches the channel in view: presence scope moves
// over, and history is fetched on first visit.
func (s *Session) SetActiveChannel(ctx context.Context, channelID string) {
	s.cache.SetActiveChannel(channelID)
	s.tracker.SwitchChannel(ctx, channelID)

	s.mu.Lock()
	fetched := s.loaded[channelID]
	s.loaded[channelID] = true
	s.mu.Unlock()
	if fetched {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := s.engine.RefetchMessages(fctx, channelID); err != nil {
		s.log.Warn().Err(err).Str("channel", channelID).Msg("history fetch failed, starting empty")
		s.mu.Lock()
		delete(s.loaded, channelID) // retry on next visit
		s.mu.Unlock()
	}
}

// SaveSettings persists settings, applying them locally first.
func (s *Session) SaveSettings(ctx context.Context, st models.Settings) error {
	s.mu.Lock()
	st.ID = s.self.ID
	s.settings = st.Normalize()
	s.mu.Unlock()

	row, _ := json.Marshal(st)
	_, err := s.store.Update(ctx, store.TableSettings, st.ID, row)
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.store.Insert(ctx, store.TableSettings, row)
	}
	return err
}

// Settings returns the current notification/appearance settings.
func (s *Session) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Self returns the session's user as currently broadcast.
func (s *Session) Self() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Engine exposes the mutation engine.
func (s *Session) Engine() *state.Engine { return s.engine }

// Cache exposes the read side of local state.
func (s *Session) Cache() *state.Cache { return s.cache }

// Presence exposes the presence tracker.
func (s *Session) Presence() *presence.Tracker { return s.tracker }

// Status exposes the user-status state machine.
func (s *Session) Status() *status.Machine { return s.machine }

// Calls exposes the call manager.
func (s *Session) Calls() *calls.Manager { return s.calls }

// handleIncoming feeds genuinely new remote messages to the notifier.
func (s *Session) handleIncoming(msg models.Message) {
	s.mu.Lock()
	self := s.self
	ns := s.settings.Notifications
	s.mu.Unlock()
	if s.notifier != nil {
		s.notifier.HandleMessage(msg, self, ns, s.cache.Channels())
	}
}

func (s *Session) handleSettings(st models.Settings) {
	s.mu.Lock()
	if st.ID == s.self.ID {
		s.settings = st
	}
	s.mu.Unlock()
}

// handleCall reacts to call-table changes: an incoming call addressed
// to this user starts ringing and arms a missed-call timer.
func (s *Session) handleCall(call models.Call) {
	s.mu.Lock()
	selfID := s.self.ID
	s.mu.Unlock()

	switch call.Status {
	case models.CallCalling:
		if call.Initiator.UserID == selfID || !callIncludes(call, selfID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if err := s.calls.Ring(ctx, call.ID); err != nil {
			s.log.Warn().Err(err).Str("call", call.ID).Msg("ring failed")
			return
		}
		s.armRingTimer(call.ID)
	case models.CallConnected, models.CallEnded, models.CallDeclined, models.CallMissed:
		s.mu.Lock()
		if t, ok := s.ringers[call.ID]; ok {
			t.Stop()
			delete(s.ringers, call.ID)
		}
		s.mu.Unlock()
	}
}

func (s *Session) armRingTimer(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ringers[callID]; ok {
		return
	}
	s.ringers[callID] = s.sched.AfterFunc(calls.RingTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if err := s.calls.Missed(ctx, callID); err != nil && !errors.Is(err, calls.ErrBadTransition) {
			s.log.Warn().Err(err).Str("call", callID).Msg("missed-call mark failed")
		}
		s.mu.Lock()
		delete(s.ringers, callID)
		s.mu.Unlock()
	})
}

func callIncludes(call models.Call, userID string) bool {
	for _, p := range call.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// handleChannelRemoved navigates away when the channel in view is
// deleted remotely.
func (s *Session) handleChannelRemoved(removed models.Channel, fallback string) {
	s.log.Info().Str("removed", removed.ID).Str("fallback", fallback).Msg("active channel deleted, navigating")
	if fallback == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	s.SetActiveChannel(ctx, fallback)
}

// handleStatusChange re-broadcasts presence and persists the directory
// row whenever the status machine transitions.
func (s *Session) handleStatusChange(st models.Status) {
	s.mu.Lock()
	s.self.Status = st
	s.self.LastSeen = time.Now().UnixMilli()
	self := s.self
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	s.tracker.Track(ctx, self)
	row, _ := json.Marshal(self)
	if _, err := s.store.Update(ctx, store.TableUsers, self.ID, row); err != nil {
		s.log.Warn().Err(err).Msg("status persist failed")
	}
}

// Close stops reconciliation, leaves presence scopes and halts timers.
// The store itself is closed by the caller that opened it.
func (s *Session) Close(ctx context.Context) {
	if s.stopMerger != nil {
		s.stopMerger()
	}
	s.machine.Stop()
	s.tracker.Stop(ctx)
	s.mu.Lock()
	for id, t := range s.ringers {
		t.Stop()
		delete(s.ringers, id)
	}
	s.mu.Unlock()
}
