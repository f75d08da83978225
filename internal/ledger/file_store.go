package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps one JSON file per date in a directory.
// Writes go to a temp file in the same directory which is then renamed over
// the target, so a crash never leaves a truncated document behind.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the document path for date.
func (s *FileStore) Path(date string) string {
	return filepath.Join(s.dir, "realtime_costs_"+date+".json")
}

// Load reads the document for date. Undecodable files are moved aside so the
// next Save does not destroy them.
func (s *FileStore) Load(_ context.Context, date string) (*DailyLedger, error) {
	path := s.Path(date)
	data, err := os.ReadFile(path) // #nosec G304 -- path built from dir + date key
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc DailyLedger
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		_ = os.Rename(path, aside)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return &doc, nil
}

// Save writes doc atomically.
func (s *FileStore) Save(_ context.Context, doc *DailyLedger) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".realtime_costs_*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(doc.Date))
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
