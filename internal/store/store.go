package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// Table names the row collections the remote store serves.
type Table string

const (
	TableUsers     Table = "users"
	TableChannels  Table = "channels"
	TableMessages  Table = "messages"
	TableReactions Table = "reactions"
	TableSettings  Table = "user_settings"
	TableCalls     Table = "calls"
)

// Tables lists every table, in subscription order.
var Tables = []Table{TableUsers, TableChannels, TableMessages, TableReactions, TableSettings, TableCalls}

// Op is a change-event operation.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is a single change pushed by the store. New is set for INSERT and
// UPDATE, Old for UPDATE and DELETE. No ordering is guaranteed across
// tables.
type Event struct {
	Table Table           `json:"table"`
	Op    Op              `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Filter selects rows by top-level JSON field equality.
type Filter map[string]string

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound  = errors.New("store: row not found")
	ErrConflict  = errors.New("store: row already exists")
	ErrNotJoined = errors.New("store: presence channel not joined")
)

// RemoteStore is the collaborator contract the reconciliation layer is
// written against: row CRUD with filtering, a change-event stream per
// table, and ephemeral presence channels. Implemented by RedisStore,
// PostgresStore, SQLiteStore and the in-memory fake.
type RemoteStore interface {
	Close() error
	Ping(ctx context.Context) error

	Select(ctx context.Context, table Table, filter Filter) ([]json.RawMessage, error)
	Insert(ctx context.Context, table Table, row json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, table Table, id string) error

	// Subscribe registers a callback for the table's change stream and
	// returns a cancel function. Callbacks run on the store's delivery
	// goroutine; they must not block.
	Subscribe(ctx context.Context, table Table, fn func(Event)) (func(), error)

	// Presence returns the ephemeral presence channel for a scope key,
	// e.g. "online" or "channel:general".
	Presence(scope string) PresenceChannel
}

// PresenceChannel is an ephemeral key-based presence scope. Membership is
// never persisted; the authoritative list arrives via sync callbacks.
type PresenceChannel interface {
	// Join subscribes and announces the payload. Callbacks must be
	// registered before Join.
	Join(ctx context.Context, self models.User) error
	// Track re-broadcasts an updated payload for the joined user.
	Track(ctx context.Context, self models.User) error
	OnSync(fn func(members []models.User))
	OnJoin(fn func(member models.User))
	OnLeave(fn func(userID string))
	Leave(ctx context.Context) error
}

// NewID returns a fresh server-side row ID.
func NewID() string {
	return ulid.Make().String()
}

// rowID extracts the "id" field of a JSON row.
func rowID(row json.RawMessage) (string, error) {
	var idOnly struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(row, &idOnly); err != nil {
		return "", fmt.Errorf("store: malformed row: %w", err)
	}
	return idOnly.ID, nil
}

// withID returns the row with its "id" field set, generating one when
// missing. Insert uses it so every stored row is addressable.
func withID(row json.RawMessage) (json.RawMessage, string, error) {
	id, err := rowID(row)
	if err != nil {
		return nil, "", err
	}
	if id != "" {
		return row, id, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(row, &m); err != nil {
		return nil, "", fmt.Errorf("store: malformed row: %w", err)
	}
	id = NewID()
	m["id"], _ = json.Marshal(id)
	out, err := json.Marshal(m)
	return out, id, err
}

// mergePatch applies a shallow JSON merge of patch onto base. Top-level
// fields in patch win; "id" is never overwritten.
func mergePatch(base, patch json.RawMessage) (json.RawMessage, error) {
	var b, p map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, fmt.Errorf("store: malformed row: %w", err)
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("store: malformed patch: %w", err)
	}
	for k, v := range p {
		if k == "id" {
			continue
		}
		b[k] = v
	}
	return json.Marshal(b)
}

// matches reports whether every filter field equals the row's top-level
// value (compared as strings or raw scalars).
func matches(row json.RawMessage, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(row, &m); err != nil {
		return false
	}
	for k, want := range filter {
		raw, ok := m[k]
		if !ok {
			return false
		}
		var got string
		if err := json.Unmarshal(raw, &got); err != nil {
			// Non-string field: compare raw text.
			got = string(raw)
		}
		if got != want {
			return false
		}
	}
	return true
}
