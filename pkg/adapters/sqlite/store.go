// Package sqlite implements core.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aretw0/placard/pkg/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS places (
	key          TEXT PRIMARY KEY,
	latitude     REAL NOT NULL DEFAULT 0,
	longitude    REAL NOT NULL DEFAULT 0,
	title        TEXT NOT NULL DEFAULT '',
	subtitle     TEXT NOT NULL DEFAULT '',
	version      INTEGER NOT NULL,
	deleted      INTEGER NOT NULL DEFAULT 0,
	committed_at INTEGER NOT NULL
);
`

// Store provides SQLite-backed place persistence.
// Deleted places keep a tombstone row so versions stay monotonic when a key is re-created.
type Store struct {
	sqlDB *sql.DB
	path  string

	// mu serializes read-modify-write cycles; SQLite allows one writer anyway.
	mu       sync.Mutex
	readOnly bool
}

// Option configures a Store.
type Option func(*Store)

// WithReadOnly rejects every write and delete with core.ErrReadOnly.
func WithReadOnly(readOnly bool) Option {
	return func(s *Store) {
		s.readOnly = readOnly
	}
}

// Open opens a SQLite store. ":memory:" opens a private in-memory database.
// Call Initialize to create the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file::memory:"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps in-memory databases shared and writers serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{sqlDB: sqlDB, path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize implements core.Store.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Read implements core.Store.
func (s *Store) Read(ctx context.Context, key string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	snap, err := s.load(ctx, s.sqlDB, key)
	if err != nil {
		return core.Snapshot{}, err
	}
	if snap.Deleted {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return snap, nil
}

// Write implements core.Store. fn runs inside the database transaction.
func (s *Store) Write(ctx context.Context, key string, fn core.MutationFunc) (core.Snapshot, error) {
	if s.readOnly {
		return core.Snapshot{}, core.ErrReadOnly
	}
	if strings.TrimSpace(key) == "" {
		return core.Snapshot{}, fmt.Errorf("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.load(ctx, tx, key)
	switch {
	case errors.Is(err, core.ErrNotFound):
		current = core.Snapshot{Key: key}
	case err != nil:
		return core.Snapshot{}, err
	}

	// A tombstone is a missing place whose version counter is kept.
	version := current.Version
	if current.Deleted {
		current = core.Snapshot{Key: key}
	}

	place, err := fn(current)
	if err != nil {
		return core.Snapshot{}, err
	}

	next := core.Snapshot{
		Key:         key,
		Place:       place,
		Version:     version + 1,
		CommittedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO places (key, latitude, longitude, title, subtitle, version, deleted, committed_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?)
ON CONFLICT(key) DO UPDATE SET
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	title = excluded.title,
	subtitle = excluded.subtitle,
	version = excluded.version,
	deleted = 0,
	committed_at = excluded.committed_at
`,
		key,
		place.Latitude,
		place.Longitude,
		place.Title,
		place.Subtitle,
		next.Version,
		next.CommittedAt.UnixMilli(),
	)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("upsert place: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Snapshot{}, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (core.Snapshot, error) {
	if s.readOnly {
		return core.Snapshot{}, core.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	last, err := s.load(ctx, tx, key)
	if err != nil {
		return core.Snapshot{}, err
	}
	if last.Deleted {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}

	last.Version++
	last.Deleted = true
	last.CommittedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err = tx.ExecContext(ctx,
		`UPDATE places SET deleted = 1, version = ?, committed_at = ? WHERE key = ?`,
		last.Version, last.CommittedAt.UnixMilli(), key,
	)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("delete place: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Snapshot{}, fmt.Errorf("commit tx: %w", err)
	}
	return last, nil
}

// Keys lists live keys in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key FROM places WHERE deleted = 0 ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan place key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate places: %w", err)
	}
	return keys, nil
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "sqlite-store"
}

func (s *Store) load(ctx context.Context, q queryer, key string) (core.Snapshot, error) {
	var (
		snap        = core.Snapshot{Key: key}
		deleted     int
		committedAt int64
	)
	err := q.QueryRowContext(ctx, `
SELECT latitude, longitude, title, subtitle, version, deleted, committed_at
FROM places
WHERE key = ?
`, key).Scan(
		&snap.Place.Latitude,
		&snap.Place.Longitude,
		&snap.Place.Title,
		&snap.Place.Subtitle,
		&snap.Version,
		&deleted,
		&committedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get place: %w", err)
	}
	snap.Deleted = deleted != 0
	snap.CommittedAt = time.UnixMilli(committedAt).UTC()
	return snap, nil
}
