package state

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/metrics"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// Merger folds the remote change stream into the cache. Merging is
// idempotent by row ID: an INSERT whose row is already present (the
// optimistic copy, or a replayed event) replaces in place instead of
// appending a duplicate.
type Merger struct {
	cache *Cache
	log   zerolog.Logger

	onMessage  func(models.Message)
	onSettings func(models.Settings)
	onCall     func(models.Call)
}

// NewMerger creates a merger over the given cache.
func NewMerger(cache *Cache, log zerolog.Logger) *Merger {
	return &Merger{cache: cache, log: log.With().Str("component", "merger").Logger()}
}

// OnMessage registers a callback for genuinely new messages (not
// reconciliations of entries already present). The notification engine
// hangs off this.
func (mg *Merger) OnMessage(fn func(models.Message)) { mg.onMessage = fn }

// OnSettings registers a callback for user_settings changes.
func (mg *Merger) OnSettings(fn func(models.Settings)) { mg.onSettings = fn }

// OnCall registers a callback for call signaling changes.
func (mg *Merger) OnCall(fn func(models.Call)) { mg.onCall = fn }

// Run subscribes to every table's change stream. The returned stop
// function cancels all subscriptions.
func (mg *Merger) Run(ctx context.Context, st store.RemoteStore) (func(), error) {
	var cancels []func()
	for _, table := range store.Tables {
		cancel, err := st.Subscribe(ctx, table, mg.Apply)
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, err
		}
		cancels = append(cancels, cancel)
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

// Apply folds a single change event into local state.
func (mg *Merger) Apply(ev store.Event) {
	metrics.EventsMerged.WithLabelValues(string(ev.Table), string(ev.Op)).Inc()
	switch ev.Table {
	case store.TableMessages:
		mg.applyMessage(ev)
	case store.TableReactions:
		mg.applyReaction(ev)
	case store.TableChannels:
		mg.applyChannel(ev)
	case store.TableUsers:
		mg.applyUser(ev)
	case store.TableSettings:
		mg.applySettings(ev)
	case store.TableCalls:
		mg.applyCall(ev)
	}
}

func (mg *Merger) applyMessage(ev store.Event) {
	switch ev.Op {
	case store.OpInsert:
		m, err := decodeMessage(ev.New)
		if err != nil {
			mg.log.Warn().Err(err).Msg("undecodable message insert")
			return
		}
		mg.cache.mu.Lock()
		if _, exists := mg.cache.index[m.ID]; exists {
			// The optimistic copy already landed: replace in place.
			mg.cache.replaceLocked(m.ID, m)
			mg.cache.mu.Unlock()
			metrics.DuplicateInserts.Inc()
			return
		}
		mg.cache.appendLocked(m.Clone())
		mg.cache.mu.Unlock()
		if mg.onMessage != nil {
			mg.onMessage(m)
		}

	case store.OpUpdate:
		m, err := decodeMessage(ev.New)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		if cur, ok := mg.cache.index[m.ID]; ok {
			updated := m
			updated.Reactions = cur.Reactions
			updated.ReplyCount = cur.ReplyCount
			*cur = updated
		}
		mg.cache.mu.Unlock()

	case store.OpDelete:
		m, err := decodeMessage(ev.Old)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		// Cascade first: a reply removed after its root would look up a
		// parent that is already gone.
		for _, reply := range mg.cache.repliesLocked(m.ID) {
			mg.cache.removeLocked(reply.ID)
		}
		mg.cache.removeLocked(m.ID)
		mg.cache.mu.Unlock()
	}
}

func (mg *Merger) applyReaction(ev store.Event) {
	var r models.Reaction
	var err error
	switch ev.Op {
	case store.OpInsert:
		r, err = decodeReaction(ev.New)
	case store.OpDelete:
		r, err = decodeReaction(ev.Old)
	default:
		return // reaction rows are immutable
	}
	if err != nil {
		return
	}

	// Only the affected message's aggregate is touched, never a refetch.
	mg.cache.mu.Lock()
	defer mg.cache.mu.Unlock()
	m, ok := mg.cache.index[r.MessageID]
	if !ok {
		return
	}
	if ev.Op == store.OpInsert {
		m.Reactions, _ = addToGroups(m.Reactions, r.Emoji, r.UserID)
	} else {
		m.Reactions, _ = removeFromGroups(m.Reactions, r.Emoji, r.UserID)
	}
}

func (mg *Merger) applyChannel(ev store.Event) {
	switch ev.Op {
	case store.OpInsert:
		ch, err := decodeChannel(ev.New)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		for _, existing := range mg.cache.channels {
			if existing.ID == ch.ID {
				mg.cache.mu.Unlock()
				return
			}
		}
		mg.cache.channels = append(mg.cache.channels, ch)
		mg.cache.mu.Unlock()

	case store.OpUpdate:
		ch, err := decodeChannel(ev.New)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		for i := range mg.cache.channels {
			if mg.cache.channels[i].ID == ch.ID {
				mg.cache.channels[i] = ch
				break
			}
		}
		mg.cache.mu.Unlock()

	case store.OpDelete:
		ch, err := decodeChannel(ev.Old)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		for i := range mg.cache.channels {
			if mg.cache.channels[i].ID == ch.ID {
				mg.cache.channels = append(mg.cache.channels[:i], mg.cache.channels[i+1:]...)
				break
			}
		}
		wasActive := mg.cache.active == ch.ID
		fallback := channelsSortedFallback(mg.cache.channels)
		signal := mg.cache.onChannelRemoved
		mg.cache.mu.Unlock()

		if wasActive && signal != nil {
			// The merger removes state; the consumer decides navigation.
			signal(ch, fallback)
		}
	}
}

func (mg *Merger) applyUser(ev store.Event) {
	switch ev.Op {
	case store.OpInsert, store.OpUpdate:
		u, err := decodeUser(ev.New)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		mg.cache.users[u.ID] = u
		mg.cache.mu.Unlock()
	case store.OpDelete:
		u, err := decodeUser(ev.Old)
		if err != nil {
			return
		}
		mg.cache.mu.Lock()
		delete(mg.cache.users, u.ID)
		mg.cache.mu.Unlock()
	}
}

func (mg *Merger) applySettings(ev store.Event) {
	if mg.onSettings == nil || ev.Op == store.OpDelete {
		return
	}
	var s models.Settings
	if err := json.Unmarshal(ev.New, &s); err != nil {
		return
	}
	mg.onSettings(s.Normalize())
}

func (mg *Merger) applyCall(ev store.Event) {
	switch ev.Op {
	case store.OpInsert, store.OpUpdate:
		var call models.Call
		if err := json.Unmarshal(ev.New, &call); err != nil {
			return
		}
		mg.cache.mu.Lock()
		mg.cache.calls[call.ID] = call
		mg.cache.mu.Unlock()
		if mg.onCall != nil {
			mg.onCall(call)
		}
	case store.OpDelete:
		var call models.Call
		if err := json.Unmarshal(ev.Old, &call); err != nil {
			return
		}
		mg.cache.mu.Lock()
		delete(mg.cache.calls, call.ID)
		mg.cache.mu.Unlock()
	}
}
