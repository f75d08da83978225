package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS daily_ledgers (
	date       TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps ledger documents in Postgres, one JSONB row per date.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load reads the document for date.
func (s *PostgresStore) Load(ctx context.Context, date string) (*DailyLedger, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM daily_ledgers WHERE date = $1`, date).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc DailyLedger
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, date, err)
	}
	return &doc, nil
}

// Save upserts the document for doc.Date.
func (s *PostgresStore) Save(ctx context.Context, doc *DailyLedger) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO daily_ledgers (date, document, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (date) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		doc.Date, data)
	return err
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
