// Package calls drives the call signaling state machine over the calls
// table. Media transport is out of scope; calls here are rows whose
// status walks a fixed graph.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/state"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// RingTimeout is how long a call may ring before it is marked missed.
const RingTimeout = 45 * time.Second

// ErrBadTransition rejects a status change the state machine forbids.
var ErrBadTransition = errors.New("calls: invalid status transition")

// transitions is the allowed status graph. Ended, declined and missed
// are terminal.
var transitions = map[models.CallStatus][]models.CallStatus{
	models.CallIdle:      {models.CallCalling},
	models.CallCalling:   {models.CallRinging, models.CallDeclined, models.CallMissed, models.CallEnded},
	models.CallRinging:   {models.CallConnected, models.CallDeclined, models.CallMissed, models.CallEnded},
	models.CallConnected: {models.CallEnded},
}

func allowed(from, to models.CallStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager issues call mutations. Merged call state lives in the shared
// cache; the merger keeps it current from the change stream.
type Manager struct {
	store store.RemoteStore
	cache *state.Cache
	self  models.User
	log   zerolog.Logger
}

// NewManager creates a call manager acting as the given user.
func NewManager(st store.RemoteStore, cache *state.Cache, self models.User, log zerolog.Logger) *Manager {
	return &Manager{store: st, cache: cache, self: self, log: log.With().Str("component", "calls").Logger()}
}

// Start creates a call in "calling" with participants frozen as
// snapshots of their state at this moment.
func (m *Manager) Start(ctx context.Context, callType models.CallType, channelID string, invitees []models.User) (models.Call, error) {
	participants := make([]models.CallParticipant, 0, len(invitees)+1)
	participants = append(participants, m.self.Snapshot())
	for _, u := range invitees {
		participants = append(participants, u.Snapshot())
	}

	call := models.Call{
		ID:           uuid.NewString(),
		Type:         callType,
		Initiator:    m.self.Snapshot(),
		Participants: participants,
		Status:       models.CallCalling,
		ChannelID:    channelID,
	}

	row, err := m.store.Insert(ctx, store.TableCalls, encode(call))
	if err != nil {
		return models.Call{}, fmt.Errorf("start call: %w", err)
	}
	return decode(row)
}

// Ring marks an incoming call as ringing on the callee's side.
func (m *Manager) Ring(ctx context.Context, callID string) error {
	return m.transition(ctx, callID, models.CallRinging, nil)
}

// Accept connects a ringing call and stamps its start time.
func (m *Manager) Accept(ctx context.Context, callID string) error {
	return m.transition(ctx, callID, models.CallConnected, map[string]any{
		"start_time": time.Now().UnixMilli(),
	})
}

// Decline rejects a call.
func (m *Manager) Decline(ctx context.Context, callID string) error {
	return m.transition(ctx, callID, models.CallDeclined, nil)
}

// End hangs up a connected call and stamps its end time.
func (m *Manager) End(ctx context.Context, callID string) error {
	return m.transition(ctx, callID, models.CallEnded, map[string]any{
		"end_time": time.Now().UnixMilli(),
	})
}

// Missed marks a call nobody answered within the ring timeout.
func (m *Manager) Missed(ctx context.Context, callID string) error {
	return m.transition(ctx, callID, models.CallMissed, nil)
}

func (m *Manager) transition(ctx context.Context, callID string, to models.CallStatus, extra map[string]any) error {
	call, ok := m.cache.Call(callID)
	if !ok {
		fetched, err := m.fetch(ctx, callID)
		if err != nil {
			return err
		}
		call = fetched
	}
	if !allowed(call.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, call.Status, to)
	}

	patch := map[string]any{"status": to}
	for k, v := range extra {
		patch[k] = v
	}
	if _, err := m.store.Update(ctx, store.TableCalls, callID, encode(patch)); err != nil {
		return fmt.Errorf("call transition: %w", err)
	}
	m.log.Info().Str("call", callID).Str("from", string(call.Status)).Str("to", string(to)).Msg("call transition")
	return nil
}

func (m *Manager) fetch(ctx context.Context, callID string) (models.Call, error) {
	rows, err := m.store.Select(ctx, store.TableCalls, store.Filter{"id": callID})
	if err != nil {
		return models.Call{}, fmt.Errorf("fetch call: %w", err)
	}
	if len(rows) == 0 {
		return models.Call{}, fmt.Errorf("fetch call: %w", store.ErrNotFound)
	}
	return decode(rows[0])
}
