package state

import (
	"sort"
	"sync"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// Cache is the in-memory, optimistically-updated mirror of remote chat
// state. All mutations, optimistic writes from the Engine and
// authoritative merges from the Merger alike, run under one mutex, so two
// near-simultaneous local calls can never both read a stale snapshot.
type Cache struct {
	mu sync.Mutex

	messages map[string][]*models.Message // channelID -> observed order
	index    map[string]*models.Message   // message ID -> entry
	channels []models.Channel
	users    map[string]models.User
	calls    map[string]models.Call
	active   string // active channel ID

	onChannelRemoved func(removed models.Channel, fallback string)
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		messages: make(map[string][]*models.Message),
		index:    make(map[string]*models.Message),
		users:    make(map[string]models.User),
		calls:    make(map[string]models.Call),
		active:   models.GeneralChannel,
	}
}

// OnChannelRemoved registers the navigation signal: called when a channel
// disappears while active, with the suggested fallback channel ID. The
// cache only removes state; navigation is the consumer's decision.
func (c *Cache) OnChannelRemoved(fn func(removed models.Channel, fallback string)) {
	c.mu.Lock()
	c.onChannelRemoved = fn
	c.mu.Unlock()
}

// Messages returns a copy of a channel's messages in observed order.
func (c *Cache) Messages(channelID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.messages[channelID]
	out := make([]models.Message, len(entries))
	for i, m := range entries {
		out[i] = *m.Clone()
	}
	return out
}

// Message returns a copy of one message.
func (c *Cache) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.index[id]
	if !ok {
		return models.Message{}, false
	}
	return *m.Clone(), true
}

// Channels returns a copy of the channel list.
func (c *Cache) Channels() []models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Channel(nil), c.channels...)
}

// Channel returns a channel by ID.
func (c *Cache) Channel(id string) (models.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// User returns a directory entry.
func (c *Cache) User(id string) (models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	return u, ok
}

// Call returns a call record by ID.
func (c *Cache) Call(id string) (models.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[id]
	return call, ok
}

// SetActiveChannel records which channel the user is viewing.
func (c *Cache) SetActiveChannel(id string) {
	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
}

// ActiveChannel returns the channel the user is viewing.
func (c *Cache) ActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LoadChannels replaces the channel list (bootstrap / refetch).
func (c *Cache) LoadChannels(channels []models.Channel) {
	c.mu.Lock()
	c.channels = append([]models.Channel(nil), channels...)
	c.mu.Unlock()
}

// LoadMessages replaces one channel's messages and rebuilds derived state
// from raw reaction rows (bootstrap / refetch fallback). Messages arrive
// in creation order.
func (c *Cache) LoadMessages(channelID string, msgs []models.Message, reactions []models.Reaction) {
	byMessage := make(map[string][]models.Reaction)
	for _, r := range reactions {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages[channelID] {
		delete(c.index, m.ID)
	}
	entries := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i].Clone()
		m.Reactions = buildGroups(byMessage[m.ID])
		m.ReplyCount = 0
		entries = append(entries, m)
		c.index[m.ID] = m
	}
	c.messages[channelID] = entries

	// Reply counts recomputed from scratch for the loaded channel.
	for _, m := range entries {
		if m.IsReply() {
			if parent, ok := c.index[m.ThreadID]; ok {
				parent.ReplyCount++
			}
		}
	}
}

// --- mutation helpers, shared by Engine and Merger ---

// appendLocked appends a message and bumps its parent's reply count.
// Caller holds the lock.
func (c *Cache) appendLocked(m *models.Message) {
	c.messages[m.ChannelID] = append(c.messages[m.ChannelID], m)
	c.index[m.ID] = m
	if m.IsReply() {
		if parent, ok := c.index[m.ThreadID]; ok {
			parent.ReplyCount++
		}
	}
}

// removeLocked removes a message by ID, decrementing its parent's reply
// count. Returns the removed entry and its position, or nil when absent.
// Caller holds the lock.
func (c *Cache) removeLocked(id string) (*models.Message, int) {
	m, ok := c.index[id]
	if !ok {
		return nil, -1
	}
	delete(c.index, id)
	entries := c.messages[m.ChannelID]
	pos := -1
	for i, e := range entries {
		if e.ID == id {
			pos = i
			c.messages[m.ChannelID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if m.IsReply() {
		if parent, ok := c.index[m.ThreadID]; ok && parent.ReplyCount > 0 {
			parent.ReplyCount--
		}
	}
	return m, pos
}

// insertAtLocked restores a message at a position (rollback path).
// Caller holds the lock.
func (c *Cache) insertAtLocked(m *models.Message, pos int) {
	entries := c.messages[m.ChannelID]
	if pos < 0 || pos > len(entries) {
		pos = len(entries)
	}
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = m
	c.messages[m.ChannelID] = entries
	c.index[m.ID] = m
	if m.IsReply() {
		if parent, ok := c.index[m.ThreadID]; ok {
			parent.ReplyCount++
		}
	}
}

// repliesLocked returns the live entries whose thread references id.
// Caller holds the lock.
func (c *Cache) repliesLocked(id string) []*models.Message {
	var out []*models.Message
	parent, ok := c.index[id]
	if !ok {
		return nil
	}
	for _, m := range c.messages[parent.ChannelID] {
		if m.ThreadID == id {
			out = append(out, m)
		}
	}
	return out
}

// replaceLocked swaps the entry oldID for the authoritative row, keeping
// position and derived state. If the authoritative ID already landed via
// the change stream, the provisional entry is dropped instead of kept as
// a duplicate. Caller holds the lock.
func (c *Cache) replaceLocked(oldID string, authoritative models.Message) {
	old, ok := c.index[oldID]
	if !ok {
		return
	}

	if twin, exists := c.index[authoritative.ID]; exists && authoritative.ID != oldID {
		// The merger beat us to it: keep the merged entry, fold any
		// derived state accumulated on the provisional one, drop it.
		if twin.ReplyCount < old.ReplyCount {
			twin.ReplyCount = old.ReplyCount
		}
		if len(twin.Reactions) == 0 {
			twin.Reactions = old.Reactions
		}
		// Remove without touching the parent count: the provisional and
		// merged entry represent the same reply.
		delete(c.index, oldID)
		entries := c.messages[old.ChannelID]
		for i, e := range entries {
			if e.ID == oldID {
				c.messages[old.ChannelID] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if old.IsReply() {
			if parent, ok := c.index[old.ThreadID]; ok && parent.ReplyCount > 0 {
				parent.ReplyCount--
			}
		}
		return
	}

	replaced := authoritative
	replaced.Reactions = old.Reactions
	replaced.ReplyCount = old.ReplyCount
	*old = replaced
	delete(c.index, oldID)
	c.index[old.ID] = old
}

// channelsSortedFallback picks the navigation fallback after a channel
// disappears: "general" when it survives, else the first remaining.
func channelsSortedFallback(channels []models.Channel) string {
	for _, ch := range channels {
		if ch.ID == models.GeneralChannel {
			return ch.ID
		}
	}
	if len(channels) == 0 {
		return ""
	}
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	sort.Strings(ids)
	return ids[0]
}
