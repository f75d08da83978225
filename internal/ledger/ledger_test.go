package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/compresr/realtime-gateway/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store whose writes can be made to fail.
type memStore struct {
	mu    sync.Mutex
	docs  map[string]ledger.DailyLedger
	fail  bool
	saves int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]ledger.DailyLedger)}
}

func (m *memStore) Load(_ context.Context, date string) (*ledger.DailyLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[date]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (m *memStore) Save(_ context.Context, doc *ledger.DailyLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.saves++
	m.docs[doc.Date] = doc.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *memStore) get(date string) (ledger.DailyLedger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[date]
	return doc, ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func record(id string, cost float64) ledger.SessionRecord {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return ledger.SessionRecord{
		SessionID:          id,
		StartTime:          start,
		EndTime:            start.Add(time.Minute),
		DurationSeconds:    60,
		Cost:               cost,
		AudioInputSeconds:  20,
		AudioOutputSeconds: 40,
	}
}

func TestLedger_AppendSessionPersists(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	l, err := ledger.Open(context.Background(), store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	doc, err := l.AppendSession(context.Background(), record("s1", 0.25))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.TotalSessions)
	assert.InDelta(t, 0.25, doc.TotalCost, 1e-9)
	assert.InDelta(t, 60.0, doc.TotalAudioSeconds, 1e-9)

	saved, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, saved.Sessions, 1)
	assert.Equal(t, "s1", saved.Sessions[0].SessionID)
}

func TestLedger_ReloadKeepsTotals(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()

	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	_, err = l.AppendSession(ctx, record("s1", 0.10))
	require.NoError(t, err)
	_, err = l.AppendSession(ctx, record("s2", 0.20))
	require.NoError(t, err)

	reopened, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	totals := reopened.Totals(ctx)
	assert.Equal(t, 2, totals.Sessions)
	assert.InDelta(t, 0.30, totals.Cost, 1e-9)
}

func TestLedger_RecomputesDisagreeingTotals(t *testing.T) {
	store := newMemStore()
	store.docs["2026-03-14"] = ledger.DailyLedger{
		Date:          "2026-03-14",
		TotalCost:     99,
		TotalSessions: 7,
		Sessions:      []ledger.SessionRecord{record("s1", 0.40)},
	}
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	l, err := ledger.Open(context.Background(), store, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	totals := l.Totals(context.Background())
	assert.Equal(t, 1, totals.Sessions)
	assert.InDelta(t, 0.40, totals.Cost, 1e-9)
}

func TestLedger_DateMismatchStartsEmpty(t *testing.T) {
	store := newMemStore()
	store.docs["2026-03-14"] = ledger.DailyLedger{
		Date:     "2026-03-13",
		Sessions: []ledger.SessionRecord{record("old", 1.0)},
	}
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	l, err := ledger.Open(context.Background(), store, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	totals := l.Totals(context.Background())
	assert.Equal(t, "2026-03-14", totals.Date)
	assert.Zero(t, totals.Sessions)
}

func TestLedger_PersistFailureRetriedOnNextWrite(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	store.setFail(true)
	doc, err := l.AppendSession(ctx, record("s1", 0.10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	// In-memory state is authoritative even when the write failed.
	assert.Equal(t, 1, doc.TotalSessions)
	assert.Equal(t, 1, l.Totals(ctx).Sessions)

	store.setFail(false)
	_, err = l.AppendSession(ctx, record("s2", 0.20))
	require.NoError(t, err)

	saved, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, saved.Sessions, 2)
}

func TestLedger_FlushWritesPendingDocument(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, l.Flush(ctx))
	assert.Zero(t, store.saves, "nothing to flush before the first append")

	store.setFail(true)
	_, err = l.AppendSession(ctx, record("s1", 0.10))
	require.Error(t, err)

	store.setFail(false)
	require.NoError(t, l.Flush(ctx))
	_, ok := store.get("2026-03-14")
	assert.True(t, ok)

	saves := store.saves
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, saves, store.saves, "already-persisted version is not rewritten")
}

func TestLedger_StaleSnapshotSkipped(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	older := l.Append(ctx, record("s1", 0.10))
	newer := l.Append(ctx, record("s2", 0.20))

	require.NoError(t, l.Persist(ctx, newer))
	require.NoError(t, l.Persist(ctx, older))

	saved, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, saved.Sessions, 2)
}

func TestLedger_Rollover(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	_, err = l.AppendSession(ctx, record("late", 0.50))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	totals := l.Totals(ctx)
	assert.Equal(t, "2026-03-15", totals.Date)
	assert.Zero(t, totals.Sessions)

	_, err = l.AppendSession(ctx, record("early", 0.10))
	require.NoError(t, err)

	prev, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, prev.Sessions, 1)
	next, ok := store.get("2026-03-15")
	require.True(t, ok)
	assert.Len(t, next.Sessions, 1)
	assert.Equal(t, "early", next.Sessions[0].SessionID)
}

func TestLedger_RolloverPersistsUnwrittenPreviousDay(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	store.setFail(true)
	_, err = l.AppendSession(ctx, record("late", 0.50))
	require.Error(t, err)
	store.setFail(false)

	clock.Advance(2 * time.Minute)
	_ = l.Totals(ctx)

	prev, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, prev.Sessions, 1)
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store, ledger.WithClock(clock.Now))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.AppendSession(ctx, record("s", 0.01))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Totals(ctx).Sessions)
	saved, ok := store.get("2026-03-14")
	require.True(t, ok)
	assert.Len(t, saved.Sessions, 50)
}

// =============================================================================
// FileStore
// =============================================================================

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := ledger.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "2026-03-14")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	doc := ledger.NewDailyLedger("2026-03-14")
	doc.Sessions = append(doc.Sessions, record("s1", 0.3))
	doc.TotalCost = 0.3
	doc.TotalSessions = 1
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", loaded.Date)
	assert.Len(t, loaded.Sessions, 1)
	assert.FileExists(t, store.Path("2026-03-14"))
}

func TestFileStore_CorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("2026-03-14"), []byte("{not json"), 0600))

	_, err = store.Load(context.Background(), "2026-03-14")
	assert.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.NoFileExists(t, store.Path("2026-03-14"))

	matches, err := filepath.Glob(filepath.Join(dir, "realtime_costs_2026-03-14.json.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFileStore_CorruptFileYieldsEmptyLedger(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("2026-03-14"), []byte("garbage"), 0600))

	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	l, err := ledger.Open(context.Background(), store, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	assert.Zero(t, l.Totals(context.Background()).Sessions)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := ledger.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "costs.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(ctx, "2026-03-14")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	doc := ledger.NewDailyLedger("2026-03-14")
	doc.Sessions = append(doc.Sessions, record("s1", 0.3))
	require.NoError(t, store.Save(ctx, doc))
	doc.Sessions = append(doc.Sessions, record("s2", 0.1))
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Len(t, loaded.Sessions, 2)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		url     string
		want    any
		wantErr bool
	}{
		{name: "plain path", url: filepath.Join(dir, "plain"), want: &ledger.FileStore{}},
		{name: "file url", url: "file://" + filepath.Join(dir, "file"), want: &ledger.FileStore{}},
		{name: "sqlite absolute", url: "sqlite:///" + filepath.Join(dir, "costs.db"), want: &ledger.SQLiteStore{}},
		{name: "empty", url: "", wantErr: true},
		{name: "unknown scheme", url: "redis://localhost", wantErr: true},
		{name: "sqlite without path", url: "sqlite://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := ledger.OpenStore(ctx, tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}
}
