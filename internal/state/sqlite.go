package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// sqlite caps host parameters per statement; stay well below it.
const inChunk = 500

// SQLiteStore is a Store backed by a local SQLite database. Insertion order
// is kept by an autoincrement sequence so the window trims oldest first.
type SQLiteStore struct {
	db     *sqlx.DB
	maxIDs int
	Clock  func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string, maxIDs int) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db, maxIDs: normalizeMax(maxIDs), Clock: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	current := 0
	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// MarkProcessed implements Store.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, "INSERT OR IGNORE INTO processed (message_id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("marking %s processed: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM processed WHERE seq NOT IN (
			SELECT seq FROM processed ORDER BY seq DESC LIMIT ?
		)`, s.maxIDs)
	if err != nil {
		return fmt.Errorf("trimming processed window: %w", err)
	}
	if err := setMeta(ctx, tx, "last_run", s.Clock().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// IsProcessed implements Store.
func (s *SQLiteStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM processed WHERE message_id = ?", id); err != nil {
		return false, fmt.Errorf("checking %s: %w", id, err)
	}
	return n > 0, nil
}

// FilterUnprocessed implements Store.
func (s *SQLiteStore) FilterUnprocessed(ctx context.Context, ids []string) ([]string, error) {
	processed := make(map[string]struct{}, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		query, args, err := sqlx.In("SELECT message_id FROM processed WHERE message_id IN (?)", ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("building lookup: %w", err)
		}
		var found []string
		if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("looking up processed ids: %w", err)
		}
		for _, id := range found {
			processed[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := processed[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// ClearProcessed implements Store.
func (s *SQLiteStore) ClearProcessed(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM processed"); err != nil {
		return fmt.Errorf("clearing processed: %w", err)
	}
	if err := setMeta(ctx, tx, "last_run", s.Clock().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// LastRun implements Store.
func (s *SQLiteStore) LastRun(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, "SELECT value FROM meta WHERE key = 'last_run'")
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last run: %w", err)
	}
	return parseLastRun(raw)
}

// SetLastRun implements Store.
func (s *SQLiteStore) SetLastRun(ctx context.Context, t time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := setMeta(ctx, tx, "last_run", t.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats implements Inspector.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM processed"); err != nil {
		return Stats{}, fmt.Errorf("counting processed: %w", err)
	}
	last, err := s.LastRun(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Processed: n, LastRun: last}, nil
}

func setMeta(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Inspector = (*SQLiteStore)(nil)
)
