// Package state persists which messages the engine has already handled.
package state

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/joshsymonds/labelsweep/internal/fsys"
)

// DefaultMaxProcessedIDs bounds the processed-id window.
const DefaultMaxProcessedIDs = 5000

// Store tracks processed message ids and the last run timestamp.
type Store interface {
	// MarkProcessed union-inserts ids, keeps the most recent window and
	// stamps the last run.
	MarkProcessed(ctx context.Context, ids []string) error
	IsProcessed(ctx context.Context, id string) (bool, error)
	// FilterUnprocessed returns ids not yet processed, preserving order.
	FilterUnprocessed(ctx context.Context, ids []string) ([]string, error)
	ClearProcessed(ctx context.Context) error
	// LastRun returns the zero time when no run has been recorded.
	LastRun(ctx context.Context) (time.Time, error)
	SetLastRun(ctx context.Context, t time.Time) error
}

// Stats summarises a store for display.
type Stats struct {
	Processed int
	LastRun   time.Time
}

// Inspector is implemented by stores that can report Stats.
type Inspector interface {
	Stats(ctx context.Context) (Stats, error)
}

// Open picks a backend by extension: .db, .sqlite and .sqlite3 open a
// SQLite store, anything else a JSON file store.
func Open(path string, maxIDs int) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		s, err := OpenSQLite(path, maxIDs)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return NewFileStore(fsys.OSFS{}, path, maxIDs), nil
	}
}

// appendWindow appends ids not already present (in order, once each) and
// keeps only the newest maxIDs entries.
func appendWindow(existing, ids []string, maxIDs int) []string {
	seen := make(map[string]struct{}, len(existing)+len(ids))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	out := append([]string(nil), existing...)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if maxIDs > 0 && len(out) > maxIDs {
		out = out[len(out)-maxIDs:]
	}
	return out
}

func normalizeMax(maxIDs int) int {
	if maxIDs <= 0 {
		return DefaultMaxProcessedIDs
	}
	return maxIDs
}
