// Package presence maintains the two ephemeral presence scopes: the
// global online-users list and the member list of the channel currently
// in view. Membership is authoritative only via sync snapshots; join and
// leave broadcasts are observed and logged but never folded in
// incrementally, so missed events cannot cause drift.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/metrics"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// GlobalScope is the presence scope every authenticated client joins.
const GlobalScope = "online"

// ChannelScope returns the presence scope key for one channel.
func ChannelScope(channelID string) string {
	return "channel:" + channelID
}

// subscription state machine per scope.
type subState int

const (
	unsubscribed subState = iota
	subscribing
	subscribed
)

const (
	retryBase = time.Second
	retryCap  = 30 * time.Second
)

// Tracker tracks both presence scopes for one session.
type Tracker struct {
	store store.RemoteStore
	log   zerolog.Logger

	mu         sync.Mutex
	self       models.User
	global     store.PresenceChannel
	globalSt   subState
	channel    store.PresenceChannel
	channelID  string
	channelSt  subState
	generation int // invalidates in-flight channel retries after a switch
	online     []models.User
	members    []models.User
}

// NewTracker creates a tracker for the given user.
func NewTracker(st store.RemoteStore, self models.User, log zerolog.Logger) *Tracker {
	return &Tracker{store: st, self: self, log: log.With().Str("component", "presence").Logger()}
}

// Start joins the global scope and begins tracking online users.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.globalSt != unsubscribed {
		t.mu.Unlock()
		return nil
	}
	t.globalSt = subscribing
	ch := t.store.Presence(GlobalScope)
	t.global = ch
	self := t.self
	t.mu.Unlock()

	ch.OnSync(func(members []models.User) {
		t.applyGlobalSync(members)
	})
	ch.OnJoin(func(member models.User) {
		t.log.Debug().Str("user", member.ID).Msg("presence join observed")
	})
	ch.OnLeave(func(userID string) {
		t.log.Debug().Str("user", userID).Msg("presence leave observed")
	})

	if err := ch.Join(ctx, self); err != nil {
		t.mu.Lock()
		t.globalSt = unsubscribed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.globalSt = subscribed
	t.mu.Unlock()
	return nil
}

// applyGlobalSync rebuilds the online list from a snapshot, excluding the
// local user.
func (t *Tracker) applyGlobalSync(members []models.User) {
	metrics.PresenceSyncs.WithLabelValues("global").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = t.online[:0]
	for _, m := range members {
		if m.ID == t.self.ID {
			continue
		}
		t.online = append(t.online, m)
	}
}

// SwitchChannel leaves the previous channel scope and joins the new one.
// A failed join is retried with capped backoff until it succeeds or the
// session switches elsewhere.
func (t *Tracker) SwitchChannel(ctx context.Context, channelID string) {
	t.mu.Lock()
	if t.channelID == channelID && t.channelSt != unsubscribed {
		t.mu.Unlock()
		return
	}
	old := t.channel
	t.channel = nil
	t.channelID = channelID
	t.channelSt = subscribing
	t.generation++
	gen := t.generation
	t.members = nil
	t.mu.Unlock()

	if old != nil {
		if err := old.Leave(ctx); err != nil {
			t.log.Warn().Err(err).Msg("leaving previous channel scope failed")
		}
	}

	go t.joinChannel(ctx, channelID, gen)
}

func (t *Tracker) joinChannel(ctx context.Context, channelID string, gen int) {
	backoff := retryBase
	for {
		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			return // switched away while retrying
		}
		self := t.self
		t.mu.Unlock()

		ch := t.store.Presence(ChannelScope(channelID))
		ch.OnSync(func(members []models.User) {
			t.applyChannelSync(gen, members)
		})
		ch.OnJoin(func(member models.User) {
			t.log.Debug().Str("user", member.ID).Str("channel", channelID).Msg("channel presence join observed")
		})
		ch.OnLeave(func(userID string) {
			t.log.Debug().Str("user", userID).Str("channel", channelID).Msg("channel presence leave observed")
		})

		err := ch.Join(ctx, self)
		if err == nil {
			t.mu.Lock()
			if t.generation != gen {
				t.mu.Unlock()
				_ = ch.Leave(context.Background())
				return
			}
			t.channel = ch
			t.channelSt = subscribed
			t.mu.Unlock()
			return
		}

		metrics.PresenceRetries.Inc()
		t.log.Warn().Err(err).Str("channel", channelID).Dur("backoff", backoff).Msg("channel presence join failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > retryCap {
			backoff = retryCap
		}
	}
}

func (t *Tracker) applyChannelSync(gen int, members []models.User) {
	metrics.PresenceSyncs.WithLabelValues("channel").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen {
		return // stale scope
	}
	t.members = append(t.members[:0], members...)
}

// Track re-broadcasts the user's presence payload on every joined scope.
// Called when status or profile fields change.
func (t *Tracker) Track(ctx context.Context, self models.User) {
	t.mu.Lock()
	t.self = self
	global, channel := t.global, t.channel
	globalSt, channelSt := t.globalSt, t.channelSt
	t.mu.Unlock()

	if globalSt == subscribed && global != nil {
		if err := global.Track(ctx, self); err != nil {
			t.log.Warn().Err(err).Msg("global presence track failed")
		}
	}
	if channelSt == subscribed && channel != nil {
		if err := channel.Track(ctx, self); err != nil {
			t.log.Warn().Err(err).Msg("channel presence track failed")
		}
	}
}

// OnlineUsers returns the last global sync snapshot, excluding self.
func (t *Tracker) OnlineUsers() []models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.User(nil), t.online...)
}

// ChannelMembers returns the last channel-scope sync snapshot.
func (t *Tracker) ChannelMembers() []models.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.User(nil), t.members...)
}

// Stop leaves both scopes.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	global, channel := t.global, t.channel
	t.global = nil
	t.channel = nil
	t.globalSt = unsubscribed
	t.channelSt = unsubscribed
	t.generation++
	t.mu.Unlock()

	if channel != nil {
		_ = channel.Leave(ctx)
	}
	if global != nil {
		_ = global.Leave(ctx)
	}
}
