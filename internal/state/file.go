package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joshsymonds/labelsweep/internal/fsys"
)

// fileData is the on-disk JSON document.
type fileData struct {
	ProcessedIDs []string `json:"processedIds"`
	LastRun      string   `json:"lastRun"`
}

// FileStore is a JSON-file Store. Every operation reloads the document and
// every mutation rewrites it atomically (temp file + rename). It assumes a
// single writer.
type FileStore struct {
	fs     fsys.FS
	path   string
	maxIDs int
	Clock  func() time.Time
}

// NewFileStore returns a store persisted at path.
func NewFileStore(fs fsys.FS, path string, maxIDs int) *FileStore {
	return &FileStore{fs: fs, path: path, maxIDs: normalizeMax(maxIDs), Clock: time.Now}
}

// MarkProcessed implements Store.
func (s *FileStore) MarkProcessed(_ context.Context, ids []string) error {
	data, err := s.load()
	if err != nil {
		return err
	}
	data.ProcessedIDs = appendWindow(data.ProcessedIDs, ids, s.maxIDs)
	data.LastRun = s.now()
	return s.save(data)
}

// IsProcessed implements Store.
func (s *FileStore) IsProcessed(_ context.Context, id string) (bool, error) {
	data, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := toSet(data.ProcessedIDs)[id]
	return ok, nil
}

// FilterUnprocessed implements Store.
func (s *FileStore) FilterUnprocessed(_ context.Context, ids []string) ([]string, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	processed := toSet(data.ProcessedIDs)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := processed[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// ClearProcessed implements Store.
func (s *FileStore) ClearProcessed(_ context.Context) error {
	return s.save(fileData{ProcessedIDs: []string{}, LastRun: s.now()})
}

// LastRun implements Store.
func (s *FileStore) LastRun(_ context.Context) (time.Time, error) {
	data, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	return parseLastRun(data.LastRun)
}

// SetLastRun implements Store.
func (s *FileStore) SetLastRun(_ context.Context, t time.Time) error {
	data, err := s.load()
	if err != nil {
		return err
	}
	data.LastRun = t.UTC().Format(time.RFC3339Nano)
	return s.save(data)
}

// Stats implements Inspector.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	data, err := s.load()
	if err != nil {
		return Stats{}, err
	}
	last, err := parseLastRun(data.LastRun)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Processed: len(data.ProcessedIDs), LastRun: last}, nil
}

func (s *FileStore) now() string {
	return s.Clock().UTC().Format(time.RFC3339Nano)
}

func (s *FileStore) load() (fileData, error) {
	raw, err := s.fs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileData{ProcessedIDs: []string{}}, nil
		}
		return fileData{}, fmt.Errorf("load state %s: %w", s.path, err)
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fileData{}, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	if data.ProcessedIDs == nil {
		data.ProcessedIDs = []string{}
	}
	return data, nil
}

func (s *FileStore) save(data fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("save state %s: %w", s.path, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("save state %s: %w", s.path, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("save state %s: %w", s.path, err)
	}
	return nil
}

func parseLastRun(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lastRun %q: %w", raw, err)
	}
	return t, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

var (
	_ Store     = (*FileStore)(nil)
	_ Inspector = (*FileStore)(nil)
)
