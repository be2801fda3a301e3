package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

const (
	pgEventsChannel   = "slackhub_events"
	pgPresenceChannel = "slackhub_presence"
)

// PostgresStore is the Postgres-backed RemoteStore. Rows live as JSONB in
// a single generic table; change events and presence broadcasts ride
// LISTEN/NOTIFY. Message bodies are capped upstream well below the NOTIFY
// payload limit.
type PostgresStore struct {
	pool *pgxpool.Pool
	bus  *eventBus

	mu       sync.Mutex
	listenOn bool
	cancel   context.CancelFunc
}

// NewPostgresStore creates a connection pool, verifies it and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool, bus: newEventBus()}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rows (
		tbl  TEXT NOT NULL,
		id   TEXT NOT NULL,
		data JSONB NOT NULL,
		seq  BIGSERIAL,
		PRIMARY KEY (tbl, id)
	);
	CREATE INDEX IF NOT EXISTS idx_rows_tbl_seq ON rows(tbl, seq);

	CREATE UNLOGGED TABLE IF NOT EXISTS presence (
		scope      TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		data       JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (scope, user_id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close stops the listener and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Select(ctx context.Context, table Table, filter Filter) ([]json.RawMessage, error) {
	query := `SELECT data FROM rows WHERE tbl = $1`
	args := []any{string(table)}
	n := 2
	for k, v := range filter {
		query += fmt.Sprintf(` AND data->>$%d = $%d`, n, n+1)
		args = append(args, k, v)
		n += 2
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, table Table, row json.RawMessage) (json.RawMessage, error) {
	row, id, err := withID(row)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rows (tbl, id, data) VALUES ($1, $2, $3)
	`, string(table), id, []byte(row))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.notify(ctx, Event{Table: table, Op: OpInsert, New: row})
	return row, nil
}

func (s *PostgresStore) Update(ctx context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error) {
	var oldData []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM rows WHERE tbl = $1 AND id = $2
	`, string(table), id).Scan(&oldData)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged, err := mergePatch(json.RawMessage(oldData), patch)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE rows SET data = $3 WHERE tbl = $1 AND id = $2
	`, string(table), id, []byte(merged))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	s.notify(ctx, Event{Table: table, Op: OpUpdate, New: merged, Old: json.RawMessage(oldData)})
	return merged, nil
}

func (s *PostgresStore) Delete(ctx context.Context, table Table, id string) error {
	var oldData []byte
	err := s.pool.QueryRow(ctx, `
		DELETE FROM rows WHERE tbl = $1 AND id = $2 RETURNING data
	`, string(table), id).Scan(&oldData)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	s.notify(ctx, Event{Table: table, Op: OpDelete, Old: json.RawMessage(oldData)})
	return nil
}

// notify broadcasts a change event via pg_notify. Best-effort.
func (s *PostgresStore) notify(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, pgEventsChannel, string(data))
}

// Subscribe registers a table callback and lazily starts the single
// LISTEN connection shared by all subscriptions.
func (s *PostgresStore) Subscribe(ctx context.Context, table Table, fn func(Event)) (func(), error) {
	s.mu.Lock()
	if !s.listenOn {
		runCtx, cancel := context.WithCancel(context.Background())
		if err := s.startListener(runCtx); err != nil {
			cancel()
			s.mu.Unlock()
			return nil, err
		}
		s.listenOn = true
		s.cancel = cancel
	}
	s.mu.Unlock()

	return s.bus.subscribe(table, fn), nil
}

// startListener acquires a dedicated connection and pumps notifications
// into the bus until the store is closed.
func (s *PostgresStore) startListener(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+pgEventsChannel); err != nil {
		conn.Release()
		return err
	}

	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				continue
			}
			s.bus.publish(ev)
		}
	}()
	return nil
}

func (s *PostgresStore) Presence(scope string) PresenceChannel {
	return &pgPresence{store: s, scope: scope}
}

// pgPresence implements PresenceChannel over the unlogged presence table
// plus NOTIFY pings. Sync snapshots come from the table filtered by
// expiry, so a crashed member ages out on its own.
type pgPresence struct {
	store *PostgresStore
	scope string

	mu      sync.Mutex
	joined  bool
	self    models.User
	cancel  context.CancelFunc
	onSync  func([]models.User)
	onJoin  func(models.User)
	onLeave func(string)
}

func (p *pgPresence) upsert(ctx context.Context, self models.User) error {
	data, err := json.Marshal(self)
	if err != nil {
		return err
	}
	_, err = p.store.pool.Exec(ctx, `
		INSERT INTO presence (scope, user_id, data, expires_at)
		VALUES ($1, $2, $3, NOW() + INTERVAL '30 seconds')
		ON CONFLICT (scope, user_id)
		DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
	`, p.scope, self.ID, data)
	return err
}

func (p *pgPresence) ping(ctx context.Context, msg presenceMsg) {
	data, err := json.Marshal(struct {
		Scope string `json:"scope"`
		presenceMsg
	}{p.scope, msg})
	if err != nil {
		return
	}
	_, _ = p.store.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, pgPresenceChannel, string(data))
}

func (p *pgPresence) Join(ctx context.Context, self models.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joined {
		return nil
	}
	if self.LastSeen == 0 {
		self.LastSeen = time.Now().UnixMilli()
	}

	if err := p.upsert(ctx, self); err != nil {
		return err
	}
	p.ping(ctx, presenceMsg{Type: "join", User: &self})

	runCtx, cancel := context.WithCancel(context.Background())
	if err := p.listen(runCtx); err != nil {
		cancel()
		return err
	}

	p.joined = true
	p.self = self
	p.cancel = cancel
	go p.sync(context.Background())
	return nil
}

// listen runs a dedicated LISTEN connection for presence pings scoped to
// this channel, plus the heartbeat that refreshes expiry and re-syncs.
func (p *pgPresence) listen(ctx context.Context) error {
	conn, err := p.store.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+pgPresenceChannel); err != nil {
		conn.Release()
		return err
	}

	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			var pm struct {
				Scope string `json:"scope"`
				presenceMsg
			}
			if err := json.Unmarshal([]byte(n.Payload), &pm); err != nil || pm.Scope != p.scope {
				continue
			}
			p.dispatch(pm.presenceMsg)
			syncCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.sync(syncCtx)
			cancel()
		}
	}()

	go func() {
		ticker := time.NewTicker(presenceHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.mu.Lock()
				self, joined := p.self, p.joined
				p.mu.Unlock()
				if joined {
					_ = p.upsert(hbCtx, self)
				}
				p.sync(hbCtx)
				cancel()
			}
		}
	}()
	return nil
}

func (p *pgPresence) dispatch(pm presenceMsg) {
	p.mu.Lock()
	onJoin, onLeave := p.onJoin, p.onLeave
	p.mu.Unlock()
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

func (p *pgPresence) sync(ctx context.Context) {
	p.mu.Lock()
	onSync, joined := p.onSync, p.joined
	p.mu.Unlock()
	if !joined || onSync == nil {
		return
	}

	rows, err := p.store.pool.Query(ctx, `
		SELECT data FROM presence WHERE scope = $1 AND expires_at > NOW()
		ORDER BY user_id
	`, p.scope)
	if err != nil {
		return
	}
	defer rows.Close()

	var members []models.User
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return
		}
		var u models.User
		if err := json.Unmarshal(data, &u); err != nil {
			continue
		}
		members = append(members, u)
	}
	onSync(members)
}

func (p *pgPresence) Track(ctx context.Context, self models.User) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return ErrNotJoined
	}
	p.self = self
	p.mu.Unlock()

	if err := p.upsert(ctx, self); err != nil {
		return err
	}
	p.ping(ctx, presenceMsg{Type: "track", User: &self})
	return nil
}

func (p *pgPresence) Leave(ctx context.Context) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return nil
	}
	p.joined = false
	self := p.self
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	_, _ = p.store.pool.Exec(ctx, `
		DELETE FROM presence WHERE scope = $1 AND user_id = $2
	`, p.scope, self.ID)
	p.ping(ctx, presenceMsg{Type: "leave", UserID: self.ID})
	return nil
}

func (p *pgPresence) OnSync(fn func([]models.User)) {
	p.mu.Lock()
	p.onSync = fn
	p.mu.Unlock()
}

func (p *pgPresence) OnJoin(fn func(models.User)) {
	p.mu.Lock()
	p.onJoin = fn
	p.mu.Unlock()
}

func (p *pgPresence) OnLeave(fn func(string)) {
	p.mu.Lock()
	p.onLeave = fn
	p.mu.Unlock()
}
