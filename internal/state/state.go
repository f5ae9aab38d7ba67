package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/dirsync/internal/db"
	"github.com/openmined/dirsync/internal/syncerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
    path        TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    updated_at  TEXT NOT NULL -- RFC3339
);
`

const upsertQuery = `
INSERT INTO sync_state (path, fingerprint, updated_at)
VALUES (:path, :fingerprint, :updated_at)
ON CONFLICT(path) DO UPDATE SET
    fingerprint = excluded.fingerprint,
    updated_at  = excluded.updated_at
`

var (
	ErrLocked         = errors.New("state: locked by another process")
	ErrNotInitialized = errors.New("state: not initialized")
	ErrEmptyKey       = errors.New("state: empty path")
	ErrEmptyValue     = errors.New("state: empty fingerprint")
)

// Record is the last synchronization point of one tracked directory.
type Record struct {
	Path        string
	Fingerprint string
	UpdatedAt   time.Time
}

type dbRecord struct {
	Path        string `db:"path"`
	Fingerprint string `db:"fingerprint"`
	UpdatedAt   string `db:"updated_at"`
}

func (r *dbRecord) toRecord() Record {
	updated, err := time.Parse(time.RFC3339, r.UpdatedAt)
	if err != nil {
		slog.Warn("state: bad updated_at", "path", r.Path, "value", r.UpdatedAt, "error", err)
	}
	return Record{Path: r.Path, Fingerprint: r.Fingerprint, UpdatedAt: updated}
}

// Store maps tracked directory paths to their last synchronized fingerprint.
// Upsert is the only mutator.
type Store struct {
	db          *sqlx.DB
	dbPath      string
	lock        *flock.Flock
	initialized bool
	now         func() time.Time
}

// Open opens the sqlite database at dbPath, creating the file and its parent
// directories when missing. Use db.MemoryPath for a throwaway store.
func Open(dbPath string) (*Store, error) {
	conn, err := db.NewSqliteDB(db.WithPath(dbPath))
	if err != nil {
		return nil, syncerr.StateStore("state open", dbPath, err)
	}

	s := &Store{
		db:     conn,
		dbPath: dbPath,
		now:    time.Now,
	}
	if dbPath != db.MemoryPath {
		s.lock = flock.New(dbPath + ".lock")
	}
	return s, nil
}

// EnsureInitialized creates the schema if absent. Safe to call repeatedly.
func (s *Store) EnsureInitialized(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return syncerr.StateStore("state init", s.dbPath, err)
	}
	s.initialized = true
	return nil
}

// Get returns the stored fingerprint for path. ok is false when no record exists.
func (s *Store) Get(ctx context.Context, path string) (fingerprint string, ok bool, err error) {
	if !s.initialized {
		return "", false, syncerr.StateStore("state get", path, ErrNotInitialized)
	}

	err = s.db.GetContext(ctx, &fingerprint, "SELECT fingerprint FROM sync_state WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, syncerr.StateStore("state get", path, err)
	}
	return fingerprint, true, nil
}

// Upsert inserts the record for path or atomically replaces its fingerprint.
func (s *Store) Upsert(ctx context.Context, path string, fingerprint string) error {
	if !s.initialized {
		return syncerr.StateStore("state upsert", path, ErrNotInitialized)
	}
	if path == "" {
		return syncerr.StateStore("state upsert", path, ErrEmptyKey)
	}
	if fingerprint == "" {
		return syncerr.StateStore("state upsert", path, ErrEmptyValue)
	}

	rec := dbRecord{
		Path:        path,
		Fingerprint: fingerprint,
		UpdatedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if _, err := s.db.NamedExecContext(ctx, upsertQuery, rec); err != nil {
		return syncerr.StateStore("state upsert", path, err)
	}

	slog.Debug("state upsert", "path", path, "fingerprint", fingerprint)
	return nil
}

// List returns every record ordered by path.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	if !s.initialized {
		return nil, syncerr.StateStore("state list", "", ErrNotInitialized)
	}

	var rows []dbRecord
	if err := s.db.SelectContext(ctx, &rows, "SELECT path, fingerprint, updated_at FROM sync_state ORDER BY path"); err != nil {
		return nil, syncerr.StateStore("state list", "", err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// Lock takes an exclusive advisory lock next to the database file so a second
// concurrent run cannot interleave its read-modify-write with ours.
// In-memory stores are process private and never contend.
func (s *Store) Lock() (unlock func() error, err error) {
	if s.lock == nil {
		return func() error { return nil }, nil
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, syncerr.StateStore("state lock", s.lock.Path(), err)
	}
	if !locked {
		return nil, syncerr.StateStore("state lock", s.lock.Path(), ErrLocked)
	}

	return func() error {
		if err := s.lock.Unlock(); err != nil {
			return fmt.Errorf("state unlock: %w", err)
		}
		return nil
	}, nil
}

func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return syncerr.StateStore("state close", s.dbPath, err)
	}
	return nil
}
