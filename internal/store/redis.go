package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

const (
	presenceTTL       = 30 * time.Second
	presenceHeartbeat = 10 * time.Second
)

// RedisStore is the Redis-backed RemoteStore. Rows live as JSON strings
// with a per-table index sorted by insertion time; change events ride
// pub/sub so every connected client sees every mutation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// rowKey returns the key holding a single row's JSON.
func rowKey(table Table, id string) string {
	return fmt.Sprintf("row:%s:%s", table, id)
}

// tableIndexKey returns the key of a table's id index (sorted by insert time).
func tableIndexKey(table Table) string {
	return fmt.Sprintf("tbl:%s:ids", table)
}

// eventsTopic returns the pub/sub topic carrying a table's change events.
func eventsTopic(table Table) string {
	return fmt.Sprintf("events:%s", table)
}

func (s *RedisStore) Select(ctx context.Context, table Table, filter Filter) ([]json.RawMessage, error) {
	ids, err := s.client.ZRange(ctx, tableIndexKey(table), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rowKey(table, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // row expired between ZRange and MGet
		}
		row := json.RawMessage(str)
		if matches(row, filter) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *RedisStore) Insert(ctx context.Context, table Table, row json.RawMessage) (json.RawMessage, error) {
	row, id, err := withID(row)
	if err != nil {
		return nil, err
	}

	// SETNX guards the uniqueness of ids (channel slugs in particular).
	ok, err := s.client.SetNX(ctx, rowKey(table, id), string(row), 0).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	err = s.client.ZAdd(ctx, tableIndexKey(table), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Table: table, Op: OpInsert, New: row})
	return row, nil
}

func (s *RedisStore) Update(ctx context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error) {
	key := rowKey(table, id)
	old, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged, err := mergePatch(json.RawMessage(old), patch)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, key, string(merged), 0).Err(); err != nil {
		return nil, err
	}

	s.publish(ctx, Event{Table: table, Op: OpUpdate, New: merged, Old: json.RawMessage(old)})
	return merged, nil
}

func (s *RedisStore) Delete(ctx context.Context, table Table, id string) error {
	key := rowKey(table, id)
	old, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, tableIndexKey(table), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	s.publish(ctx, Event{Table: table, Op: OpDelete, Old: json.RawMessage(old)})
	return nil
}

// publish pushes a change event. Best-effort: a lost event only delays
// convergence until the next refetch.
func (s *RedisStore) publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.client.Publish(ctx, eventsTopic(ev.Table), string(data))
}

func (s *RedisStore) Subscribe(ctx context.Context, table Table, fn func(Event)) (func(), error) {
	sub := s.client.Subscribe(ctx, eventsTopic(table))
	// Force the SUBSCRIBE handshake so a dead connection fails here, not
	// silently in the reader goroutine.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}()

	return func() { sub.Close() }, nil
}

func (s *RedisStore) Presence(scope string) PresenceChannel {
	return &redisPresenceChannel{store: s, scope: scope}
}

// presenceMsg is the wire shape of presence broadcasts.
type presenceMsg struct {
	Type   string       `json:"type"` // "join", "leave", "track"
	User   *models.User `json:"user,omitempty"`
	UserID string       `json:"user_id,omitempty"`
}

// redisPresenceChannel implements PresenceChannel over pub/sub plus TTL'd
// member keys. Membership is rebuilt from the key space on every sync, so
// missed join/leave broadcasts cannot cause drift; a crashed member simply
// ages out when its key expires.
type redisPresenceChannel struct {
	store *RedisStore
	scope string

	mu      sync.Mutex
	joined  bool
	self    models.User
	sub     *redis.PubSub
	done    chan struct{}
	onSync  func([]models.User)
	onJoin  func(models.User)
	onLeave func(string)
}

func presenceMemberKey(scope, userID string) string {
	return fmt.Sprintf("presence:%s:member:%s", scope, userID)
}

func presenceTopic(scope string) string {
	return fmt.Sprintf("presence:%s", scope)
}

func (c *redisPresenceChannel) Join(ctx context.Context, self models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined {
		return nil
	}
	if self.LastSeen == 0 {
		self.LastSeen = time.Now().UnixMilli()
	}

	sub := c.store.client.Subscribe(ctx, presenceTopic(c.scope))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	if err := c.writeMember(ctx, self); err != nil {
		sub.Close()
		return err
	}
	c.broadcast(ctx, presenceMsg{Type: "join", User: &self})

	c.joined = true
	c.self = self
	c.sub = sub
	c.done = make(chan struct{})
	go c.run(sub.Channel(), c.done)

	// Immediate snapshot so the joiner does not wait a heartbeat.
	go c.sync(context.Background())
	return nil
}

func (c *redisPresenceChannel) writeMember(ctx context.Context, self models.User) error {
	data, err := json.Marshal(self)
	if err != nil {
		return err
	}
	return c.store.client.Set(ctx, presenceMemberKey(c.scope, self.ID), string(data), presenceTTL).Err()
}

func (c *redisPresenceChannel) broadcast(ctx context.Context, msg presenceMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.store.client.Publish(ctx, presenceTopic(c.scope), string(data))
}

func (c *redisPresenceChannel) Track(ctx context.Context, self models.User) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.self = self
	c.mu.Unlock()

	if err := c.writeMember(ctx, self); err != nil {
		return err
	}
	c.broadcast(ctx, presenceMsg{Type: "track", User: &self})
	return nil
}

func (c *redisPresenceChannel) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	self := c.self
	sub := c.sub
	close(c.done)
	c.mu.Unlock()

	sub.Close()
	c.store.client.Del(ctx, presenceMemberKey(c.scope, self.ID))
	c.broadcast(ctx, presenceMsg{Type: "leave", UserID: self.ID})
	return nil
}

func (c *redisPresenceChannel) OnSync(fn func([]models.User)) {
	c.mu.Lock()
	c.onSync = fn
	c.mu.Unlock()
}

func (c *redisPresenceChannel) OnJoin(fn func(models.User)) {
	c.mu.Lock()
	c.onJoin = fn
	c.mu.Unlock()
}

func (c *redisPresenceChannel) OnLeave(fn func(string)) {
	c.mu.Lock()
	c.onLeave = fn
	c.mu.Unlock()
}

// run consumes presence broadcasts and drives the heartbeat. Each received
// join/leave/track triggers a full sync rebuild rather than an incremental
// edit of membership.
func (c *redisPresenceChannel) run(msgs <-chan *redis.Message, done chan struct{}) {
	ticker := time.NewTicker(presenceHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.mu.Lock()
			self, joined := c.self, c.joined
			c.mu.Unlock()
			if joined {
				_ = c.writeMember(ctx, self) // refresh TTL
			}
			c.sync(ctx)
			cancel()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var pm presenceMsg
			if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
				continue
			}
			c.dispatch(pm)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.sync(ctx)
			cancel()
		}
	}
}

func (c *redisPresenceChannel) dispatch(pm presenceMsg) {
	c.mu.Lock()
	onJoin, onLeave := c.onJoin, c.onLeave
	c.mu.Unlock()
	switch pm.Type {
	case "join":
		if onJoin != nil && pm.User != nil {
			onJoin(*pm.User)
		}
	case "leave":
		if onLeave != nil {
			onLeave(pm.UserID)
		}
	}
}

// sync rebuilds the member list from live keys and emits it.
func (c *redisPresenceChannel) sync(ctx context.Context) {
	c.mu.Lock()
	onSync, joined := c.onSync, c.joined
	c.mu.Unlock()
	if !joined || onSync == nil {
		return
	}

	pattern := presenceMemberKey(c.scope, "*")
	var keys []string
	iter := c.store.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if iter.Err() != nil {
		return
	}

	members := make([]models.User, 0, len(keys))
	if len(keys) > 0 {
		vals, err := c.store.client.MGet(ctx, keys...).Result()
		if err != nil {
			return
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var u models.User
			if err := json.Unmarshal([]byte(str), &u); err != nil {
				continue
			}
			members = append(members, u)
		}
	}
	onSync(members)
}
