package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store reads and writes one ledger document per date.
type Store interface {
	// Load returns ErrNotFound when no document exists and ErrCorrupt when
	// the document cannot be decoded.
	Load(ctx context.Context, date string) (*DailyLedger, error)
	// Save replaces the document for doc.Date atomically.
	Save(ctx context.Context, doc *DailyLedger) error
	Close() error
}

// Snapshot is a point-in-time copy of the current ledger, tagged with the
// mutation it reflects so that persisting snapshots out of order never
// overwrites a newer document with an older one.
type Snapshot struct {
	Ledger  DailyLedger
	version uint64
}

// Ledger owns today's DailyLedger and its durability.
//
// Mutation (Append) and persistence (Persist) are split so the caller can
// compute the record under its own lock and do the store write after
// releasing it. When the wall-clock date changes, the next operation loads
// (or creates) the new date's document; the previous day's document is never
// touched again.
type Ledger struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	current *DailyLedger
	version uint64

	persistMu sync.Mutex
	persisted map[string]uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for date keys.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Open loads today's document from store.
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		now:       time.Now,
		persisted: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}

	doc, err := l.Load(ctx, DateKey(l.now()))
	if err != nil {
		return nil, err
	}
	l.current = doc
	return l, nil
}

// Load reads the document for date. A missing or corrupt document yields an
// empty ledger; only store access failures are returned as errors.
func (l *Ledger) Load(ctx context.Context, date string) (*DailyLedger, error) {
	doc, err := l.store.Load(ctx, date)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return NewDailyLedger(date), nil
	case errors.Is(err, ErrCorrupt):
		log.Warn().Err(err).Str("date", date).Msg("ledger: corrupt document, starting empty")
		return NewDailyLedger(date), nil
	default:
		return nil, fmt.Errorf("failed to load ledger for %s: %w", date, err)
	}

	if doc.Date != date {
		log.Warn().Str("date", date).Str("document_date", doc.Date).Msg("ledger: date mismatch, starting empty")
		return NewDailyLedger(date), nil
	}
	if doc.normalize() {
		log.Warn().Str("date", date).Msg("ledger: totals disagreed with records, recomputed")
	}
	return doc, nil
}

// Roll performs a pending date rollover. Callers that wrap Totals or Append
// in their own lock call Roll first so the store read happens outside it.
func (l *Ledger) Roll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(ctx)
}

// Totals returns today's aggregate numbers, rolling over first if needed.
func (l *Ledger) Totals(ctx context.Context) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(ctx)
	return l.current.Totals()
}

// Current returns a copy of today's document, rolling over first if needed.
func (l *Ledger) Current(ctx context.Context) DailyLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(ctx)
	return l.current.Clone()
}

// Append adds rec to today's document in memory and returns a snapshot to
// hand to Persist.
func (l *Ledger) Append(ctx context.Context, rec SessionRecord) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(ctx)

	l.current.add(rec)
	l.version++
	return Snapshot{Ledger: l.current.Clone(), version: l.version}
}

// Persist writes snap unless a newer snapshot of the same date is already
// on disk. Failures are wrapped in ErrPersistence.
func (l *Ledger) Persist(ctx context.Context, snap Snapshot) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	date := snap.Ledger.Date
	if snap.version <= l.persisted[date] {
		return nil
	}
	if err := l.store.Save(ctx, &snap.Ledger); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, date, err)
	}
	l.persisted[date] = snap.version
	return nil
}

// AppendSession appends rec and persists the result.
func (l *Ledger) AppendSession(ctx context.Context, rec SessionRecord) (DailyLedger, error) {
	snap := l.Append(ctx, rec)
	return snap.Ledger, l.Persist(ctx, snap)
}

// Flush persists the current document if its latest mutation has not been
// written yet (e.g. after a failed write).
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	snap := Snapshot{Ledger: l.current.Clone(), version: l.version}
	l.mu.Unlock()

	if snap.version == 0 {
		return nil
	}
	return l.Persist(ctx, snap)
}

// rolloverLocked swaps in the document for the current date. A store failure
// is logged and an empty ledger is used so that admission keeps working.
func (l *Ledger) rolloverLocked(ctx context.Context) {
	date := DateKey(l.now())
	if l.current != nil && l.current.Date == date {
		return
	}

	doc, err := l.Load(ctx, date)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("ledger: rollover load failed, starting empty")
		doc = NewDailyLedger(date)
	}
	if l.current != nil {
		// Last chance to write the previous day if its final write failed.
		stale := Snapshot{Ledger: l.current.Clone(), version: l.version}
		if err := l.Persist(ctx, stale); err != nil {
			log.Error().Err(err).Str("date", stale.Ledger.Date).Msg("ledger: failed to persist previous day")
		}
		log.Info().Str("from", l.current.Date).Str("to", date).Msg("ledger: date rollover")
	}
	l.current = doc
}
