package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// eventBus fans change events out to in-process subscribers. Shared by the
// SQLite (offline) and in-memory stores, which have no wire to push on.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Table]map[int]func(Event)
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[Table]map[int]func(Event))}
}

func (b *eventBus) subscribe(table Table, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[table] == nil {
		b.subs[table] = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[table][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[table], id)
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs[ev.Table]))
	for _, fn := range b.subs[ev.Table] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// presenceHub keeps per-scope ephemeral membership for in-process presence
// channels. Every join, leave and track pushes a fresh sync snapshot to
// all channels on the scope, so membership is always rebuilt from sync.
type presenceHub struct {
	mu       sync.Mutex
	scopes   map[string]map[string]models.User  // scope -> userID -> payload
	channels map[string][]*localPresenceChannel // scope -> joined channels
}

func newPresenceHub() *presenceHub {
	return &presenceHub{
		scopes:   make(map[string]map[string]models.User),
		channels: make(map[string][]*localPresenceChannel),
	}
}

func (h *presenceHub) channel(scope string) PresenceChannel {
	return &localPresenceChannel{hub: h, scope: scope}
}

func (h *presenceHub) join(ch *localPresenceChannel, self models.User) {
	h.mu.Lock()
	if h.scopes[ch.scope] == nil {
		h.scopes[ch.scope] = make(map[string]models.User)
	}
	h.scopes[ch.scope][self.ID] = self
	h.channels[ch.scope] = append(h.channels[ch.scope], ch)
	h.mu.Unlock()
	h.fanoutJoin(ch.scope, self)
	h.fanoutSync(ch.scope)
}

func (h *presenceHub) track(scope string, self models.User) {
	h.mu.Lock()
	if h.scopes[scope] == nil {
		h.scopes[scope] = make(map[string]models.User)
	}
	h.scopes[scope][self.ID] = self
	h.mu.Unlock()
	h.fanoutSync(scope)
}

func (h *presenceHub) leave(ch *localPresenceChannel, userID string) {
	h.mu.Lock()
	delete(h.scopes[ch.scope], userID)
	joined := h.channels[ch.scope]
	for i, c := range joined {
		if c == ch {
			h.channels[ch.scope] = append(joined[:i], joined[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	h.fanoutLeave(ch.scope, userID)
	h.fanoutSync(ch.scope)
}

func (h *presenceHub) snapshot(scope string) []models.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]models.User, 0, len(h.scopes[scope]))
	for _, u := range h.scopes[scope] {
		members = append(members, u)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (h *presenceHub) joinedChannels(scope string) []*localPresenceChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*localPresenceChannel(nil), h.channels[scope]...)
}

func (h *presenceHub) fanoutSync(scope string) {
	members := h.snapshot(scope)
	for _, ch := range h.joinedChannels(scope) {
		ch.emitSync(members)
	}
}

func (h *presenceHub) fanoutJoin(scope string, member models.User) {
	for _, ch := range h.joinedChannels(scope) {
		ch.emitJoin(member)
	}
}

func (h *presenceHub) fanoutLeave(scope, userID string) {
	for _, ch := range h.joinedChannels(scope) {
		ch.emitLeave(userID)
	}
}

// localPresenceChannel is the in-process PresenceChannel implementation.
type localPresenceChannel struct {
	hub   *presenceHub
	scope string

	mu      sync.Mutex
	joined  bool
	userID  string
	onSync  func([]models.User)
	onJoin  func(models.User)
	onLeave func(string)
}

func (c *localPresenceChannel) Join(_ context.Context, self models.User) error {
	c.mu.Lock()
	c.joined = true
	c.userID = self.ID
	c.mu.Unlock()
	if self.LastSeen == 0 {
		self.LastSeen = time.Now().UnixMilli()
	}
	c.hub.join(c, self)
	return nil
}

func (c *localPresenceChannel) Track(_ context.Context, self models.User) error {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	c.hub.track(c.scope, self)
	return nil
}

func (c *localPresenceChannel) Leave(_ context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	userID := c.userID
	c.mu.Unlock()
	c.hub.leave(c, userID)
	return nil
}

func (c *localPresenceChannel) OnSync(fn func([]models.User)) {
	c.mu.Lock()
	c.onSync = fn
	c.mu.Unlock()
}

func (c *localPresenceChannel) OnJoin(fn func(models.User)) {
	c.mu.Lock()
	c.onJoin = fn
	c.mu.Unlock()
}

func (c *localPresenceChannel) OnLeave(fn func(string)) {
	c.mu.Lock()
	c.onLeave = fn
	c.mu.Unlock()
}

func (c *localPresenceChannel) emitSync(members []models.User) {
	c.mu.Lock()
	fn, joined := c.onSync, c.joined
	c.mu.Unlock()
	if joined && fn != nil {
		fn(members)
	}
}

func (c *localPresenceChannel) emitJoin(member models.User) {
	c.mu.Lock()
	fn, joined := c.onJoin, c.joined
	c.mu.Unlock()
	if joined && fn != nil {
		fn(member)
	}
}

func (c *localPresenceChannel) emitLeave(userID string) {
	c.mu.Lock()
	fn, joined := c.onLeave, c.joined
	c.mu.Unlock()
	if joined && fn != nil {
		fn(userID)
	}
}
