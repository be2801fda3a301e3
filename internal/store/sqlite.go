package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the offline/anonymous-mode RemoteStore: rows are durable
// on local disk, change events fan out in-process and presence is backed
// by the in-process hub (offline mode has exactly one client).
type SQLiteStore struct {
	db  *sql.DB
	bus *eventBus
	hub *presenceHub
}

// NewSQLiteStore opens (or creates) the local database.
// If dbPath is empty, defaults to "./data/slackhub.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/slackhub.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, bus: newEventBus(), hub: newPresenceHub()}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rows (
		tbl  TEXT NOT NULL,
		id   TEXT NOT NULL,
		data TEXT NOT NULL,
		seq  INTEGER PRIMARY KEY AUTOINCREMENT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rows_tbl_id ON rows(tbl, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Select(ctx context.Context, table Table, filter Filter) ([]json.RawMessage, error) {
	query := `SELECT data FROM rows WHERE tbl = ?`
	args := []any{string(table)}
	for k, v := range filter {
		if !validFieldName(k) {
			return nil, fmt.Errorf("store: invalid filter field %q", k)
		}
		query += fmt.Sprintf(` AND json_extract(data, '$.%s') = ?`, k)
		args = append(args, v)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

// validFieldName restricts filter fields to snake_case JSON keys so they
// can be spliced into a json_extract path.
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && r != '_' {
			return false
		}
	}
	return true
}

func (s *SQLiteStore) Insert(ctx context.Context, table Table, row json.RawMessage) (json.RawMessage, error) {
	row, id, err := withID(row)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rows (tbl, id, data) VALUES (?, ?, ?)
	`, string(table), id, string(row))
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrConflict
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.bus.publish(Event{Table: table, Op: OpInsert, New: row})
	return row, nil
}

func (s *SQLiteStore) Update(ctx context.Context, table Table, id string, patch json.RawMessage) (json.RawMessage, error) {
	var oldData string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM rows WHERE tbl = ? AND id = ?
	`, string(table), id).Scan(&oldData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged, err := mergePatch(json.RawMessage(oldData), patch)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rows SET data = ? WHERE tbl = ? AND id = ?
	`, string(merged), string(table), id)
	if err != nil {
		return nil, err
	}

	s.bus.publish(Event{Table: table, Op: OpUpdate, New: merged, Old: json.RawMessage(oldData)})
	return merged, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, table Table, id string) error {
	var oldData string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM rows WHERE tbl = ? AND id = ?
	`, string(table), id).Scan(&oldData)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM rows WHERE tbl = ? AND id = ?
	`, string(table), id); err != nil {
		return err
	}

	s.bus.publish(Event{Table: table, Op: OpDelete, Old: json.RawMessage(oldData)})
	return nil
}

func (s *SQLiteStore) Subscribe(_ context.Context, table Table, fn func(Event)) (func(), error) {
	return s.bus.subscribe(table, fn), nil
}

func (s *SQLiteStore) Presence(scope string) PresenceChannel {
	return s.hub.channel(scope)
}
