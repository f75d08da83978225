package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS daily_ledgers (
	date       TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps ledger documents in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create ledger db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the document for date.
func (s *SQLiteStore) Load(ctx context.Context, date string) (*DailyLedger, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM daily_ledgers WHERE date = ?`, date).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc DailyLedger
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, date, err)
	}
	return &doc, nil
}

// Save upserts the document for doc.Date in a single statement.
func (s *SQLiteStore) Save(ctx context.Context, doc *DailyLedger) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO daily_ledgers (date, document, updated_at) VALUES (?, ?, ?)
ON CONFLICT(date) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		doc.Date, string(data), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
