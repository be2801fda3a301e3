package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process RemoteStore used by tests and as the state
// backing for stores that have no native change feed. Events are delivered
// synchronously on the mutating goroutine.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[Table]map[string]json.RawMessage
	order  map[Table][]string // insertion order per table
	bus    *eventBus
	hub    *presenceHub

	// FailNext makes the next mutating call return the given error, then
	// clears itself. Tests use it to exercise rollback paths.
	FailNext error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[Table]map[string]json.RawMessage),
		order:  make(map[Table][]string),
		bus:    newEventBus(),
		hub:    newPresenceHub(),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryStore) Select(_ context.Context, table Table, filter Filter) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, id := range s.order[table] {
		row := s.tables[table][id]
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, table Table, row json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	row, id, err := withID(row)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]json.RawMessage)
	}
	if _, exists := s.tables[table][id]; exists {
		s.mu.Unlock()
		return nil, ErrConflict
	}
	s.tables[table][id] = row
	s.order[table] = append(s.order[table], id)
	s.mu.Unlock()

	s.bus.publish(Event{Table: table, Op: OpInsert, New: row})
	return row, nil
}

func (s *MemoryStore) Update(_ context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	old, ok := s.tables[table][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	merged, err := mergePatch(old, patch)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.tables[table][id] = merged
	s.mu.Unlock()

	s.bus.publish(Event{Table: table, Op: OpUpdate, New: merged, Old: old})
	return merged, nil
}

func (s *MemoryStore) Delete(_ context.Context, table Table, id string) error {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	old, ok := s.tables[table][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.tables[table], id)
	ids := s.order[table]
	for i, v := range ids {
		if v == id {
			s.order[table] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.bus.publish(Event{Table: table, Op: OpDelete, Old: old})
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, table Table, fn func(Event)) (func(), error) {
	return s.bus.subscribe(table, fn), nil
}

func (s *MemoryStore) Presence(scope string) PresenceChannel {
	return s.hub.channel(scope)
}

// Count returns the number of rows in a table. Test helper.
func (s *MemoryStore) Count(table Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}
