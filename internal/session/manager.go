// Package session - manager.go orchestrates realtime sessions.
//
// FLOW:
//  1. RequestSession asks the tracker whether a session may start and, if so,
//     issues an id held as pending until StartSession or PendingTTL.
//  2. StartSession (optionally after confirmation) creates a realtime.Session,
//     registers it and connects it. Admission is re-validated atomically by
//     the tracker during Connect.
//  3. A watcher goroutine per session unregisters it once its events are
//     drained, whatever ended it (client, breach, upstream).
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/realtime"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records session metrics into mc.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = mc }
}

// WithTelemetry writes one JSONL record per finished session.
func WithTelemetry(t *monitoring.Tracker) Option {
	return func(m *Manager) { m.telemetry = t }
}

// WithTokenCounter sets the counter sessions meter text with.
func WithTokenCounter(c costcontrol.TokenCounter) Option {
	return func(m *Manager) { m.tokens = c }
}

// Manager owns every session of the process.
type Manager struct {
	cfg       Config
	tracker   *costcontrol.Tracker
	dialer    realtime.Dialer
	sink      realtime.EventSink
	metrics   *monitoring.MetricsCollector
	telemetry *monitoring.Tracker
	tokens    costcontrol.TokenCounter

	mu       sync.Mutex
	pending  map[string]*pending
	sessions map[string]*entry
	closed   bool
	wg       sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	id      string
	userID  string
	session *realtime.Session
	audio   *realtime.PipeAudio
}

// NewManager creates a Manager. sink receives every session's events.
func NewManager(cfg Config, tracker *costcontrol.Tracker, dialer realtime.Dialer, sink realtime.EventSink, opts ...Option) *Manager {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultConfig().PendingTTL
	}
	if cfg.EstimatedCostPerMinute <= 0 {
		cfg.EstimatedCostPerMinute = DefaultConfig().EstimatedCostPerMinute
	}
	m := &Manager{
		cfg:      cfg,
		tracker:  tracker,
		dialer:   dialer,
		sink:     sink,
		pending:  make(map[string]*pending),
		sessions: make(map[string]*entry),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanupLoop()
	return m
}

// Tracker returns the cost tracker the Manager enforces limits with.
func (m *Manager) Tracker() *costcontrol.Tracker { return m.tracker }

// =============================================================================
// REQUEST / START
// =============================================================================

// RequestSession checks admission and issues a session id when allowed.
// A denial is a normal outcome: the result carries the reason and the error
// wraps costcontrol.ErrAdmissionDenied.
func (m *Manager) RequestSession(ctx context.Context, userID string) (RequestResult, error) {
	if userID = strings.TrimSpace(userID); userID == "" {
		userID = "default"
	}

	admission := m.tracker.CanStartSession(ctx)
	summary := m.tracker.DailySummary(ctx)
	limits := summary.Limits
	m.metrics.RecordRequest(admission.Allowed)

	result := RequestResult{
		AdmissionResult: admission,
		UserID:          userID,
		Limits: SessionLimits{
			MaxCost:                limits.MaxCostPerSession,
			MaxDurationMinutes:     float64(limits.MaxSessionDurationSeconds) / 60,
			EstimatedCostPerMinute: m.cfg.EstimatedCostPerMinute,
		},
		DailySummary: summary,
	}

	if !admission.Allowed {
		log.Info().Str("user_id", userID).Str("reason", admission.Reason).Msg("session: request denied")
		m.telemetry.RecordSession(&monitoring.SessionEvent{
			Timestamp:     time.Now(),
			UserID:        userID,
			Outcome:       monitoring.OutcomeDenied,
			Reason:        admission.Reason,
			DailyCost:     summary.Totals.Cost,
			DailySessions: summary.Totals.Sessions,
		})
		return result, fmt.Errorf("%w: %s", costcontrol.ErrAdmissionDenied, admission.Reason)
	}

	result.SessionID = newSessionID(userID)
	if m.cfg.RequireConfirmation {
		result.RequiresConfirmation = true
		result.ConfirmationMessage = fmt.Sprintf(
			"Realtime voice session will cost up to $%.2f for max %d minutes. Daily remaining: $%.2f. Continue?",
			limits.MaxCostPerSession, limits.MaxSessionDurationSeconds/60, summary.Remaining.Cost)
	}

	m.mu.Lock()
	m.pending[result.SessionID] = &pending{userID: userID, createdAt: time.Now()}
	m.mu.Unlock()

	log.Info().Str("session_id", result.SessionID).Str("user_id", userID).Msg("session: id issued")
	return result, nil
}

// newSessionID returns "rt_<user>_<8 hex>".
func newSessionID(userID string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("rt_%s_%s", sanitizeUserID(userID), hex[:8])
}

func sanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
		if b.Len() >= 32 {
			break
		}
	}
	return b.String()
}

// StartSession connects a session for an id issued by RequestSession.
func (m *Manager) StartSession(ctx context.Context, id string, confirmed bool) (StartResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return StartResult{}, ErrShuttingDown
	}
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: %s", costcontrol.ErrSessionNotFound, id)
	}
	if m.cfg.RequireConfirmation && !confirmed {
		m.mu.Unlock()
		return StartResult{}, ErrConfirmationRequired
	}
	delete(m.pending, id)

	e := &entry{id: id, userID: p.userID}
	opts := []realtime.Option{realtime.WithMetrics(m.metrics), realtime.WithTokenCounter(m.tokens)}
	if m.cfg.AudioEnabled {
		e.audio = realtime.NewPipeAudio(0)
		opts = append(opts, realtime.WithAudio(e.audio))
	}
	e.session = realtime.NewSession(id, m.tracker, m.dialer, m.sink, m.cfg.Session, opts...)
	m.sessions[id] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(e)

	admission, err := e.session.Connect(ctx)
	if errors.Is(err, realtime.ErrSessionClosed) {
		// Ended by EndSession or Shutdown while connecting; watch records it.
		m.unregister(e)
		return StartResult{SessionID: id, Warnings: admission.Warnings}, err
	}
	if err != nil {
		m.unregister(e)
		outcome := monitoring.OutcomeConnectFailed
		if errors.Is(err, costcontrol.ErrAdmissionDenied) {
			outcome = monitoring.OutcomeDenied
		}
		m.telemetry.RecordSession(&monitoring.SessionEvent{
			Timestamp: time.Now(),
			SessionID: id,
			UserID:    e.userID,
			Outcome:   outcome,
			Reason:    err.Error(),
		})
		return StartResult{SessionID: id, Warnings: admission.Warnings}, err
	}

	m.mu.Lock()
	closing := m.closed
	m.mu.Unlock()
	if closing {
		if _, err := e.session.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Debug().Err(err).Str("session_id", id).Msg("session: end at shutdown")
		}
		return StartResult{SessionID: id, Warnings: admission.Warnings}, ErrShuttingDown
	}

	result := StartResult{
		SessionID:      id,
		Warnings:       admission.Warnings,
		AudioAvailable: e.session.AudioAvailable(),
	}
	if result.AudioAvailable {
		if err := e.session.StartAudioCapture(); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("session: audio input not available")
		} else {
			result.AudioCapturing = true
		}
	}

	log.Info().Str("session_id", id).Str("user_id", e.userID).Bool("audio", result.AudioCapturing).Msg("session: started")
	return result, nil
}

// CancelRequest drops an issued id that was never started.
func (m *Manager) CancelRequest(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return fmt.Errorf("%w: %s", costcontrol.ErrSessionNotFound, id)
	}
	delete(m.pending, id)
	return nil
}

// watch unregisters e once its session finished and records the outcome.
func (m *Manager) watch(e *entry) {
	defer m.wg.Done()
	<-e.session.Done()
	m.unregister(e)

	reason := e.session.EndReason()
	if reason == "" {
		return // connect failed; StartSession recorded the failure
	}
	summary, _ := e.session.Summary()
	outcome := monitoring.OutcomeCompleted
	switch {
	case summary.Record.SessionID == "":
		outcome = monitoring.OutcomeCancelled
	case reason == realtime.EndLimitBreached:
		outcome = monitoring.OutcomeBreached
	case reason == realtime.EndTransportError, reason == realtime.EndUpstreamError:
		outcome = monitoring.OutcomeError
	}
	rec := summary.Record
	m.telemetry.RecordSession(&monitoring.SessionEvent{
		Timestamp:          time.Now(),
		SessionID:          e.id,
		UserID:             e.userID,
		UpstreamSessionID:  e.session.UpstreamID(),
		Outcome:            outcome,
		Reason:             string(reason),
		DurationSeconds:    rec.DurationSeconds,
		Cost:               rec.Cost,
		AudioInputSeconds:  rec.AudioInputSeconds,
		AudioOutputSeconds: rec.AudioOutputSeconds,
		DailyCost:          summary.DailyTotals.Cost,
		DailySessions:      summary.DailyTotals.Sessions,
		Persisted:          summary.Persisted,
	})
}

func (m *Manager) unregister(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[e.id] == e {
		delete(m.sessions, e.id)
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", costcontrol.ErrSessionNotFound, id)
	}
	return e, nil
}

// =============================================================================
// SESSION ACTIONS
// =============================================================================

// SendText sends a user text message to a registered session.
func (m *Manager) SendText(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return e.session.SendText(ctx, text)
}

// StartAudioCapture starts streaming fed audio upstream.
func (m *Manager) StartAudioCapture(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return e.session.StartAudioCapture()
}

// StopAudioCapture stops streaming fed audio upstream.
func (m *Manager) StopAudioCapture(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return e.session.StopAudioCapture()
}

// FeedAudio hands a PCM16 chunk from the client to the session's capture.
// It reports whether the chunk was accepted; chunks arriving while capture is
// stopped or the buffer is full are dropped.
func (m *Manager) FeedAudio(id string, pcm []byte) (bool, error) {
	e, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	if e.audio == nil {
		return false, fmt.Errorf("%w: audio input disabled", realtime.ErrCapabilityUnavailable)
	}
	return e.audio.Feed(pcm), nil
}

// EndSession disconnects a registered session and returns its accounting.
// A session that is still connecting is withdrawn and has an empty summary.
func (m *Manager) EndSession(ctx context.Context, id string) (costcontrol.SessionSummary, error) {
	e, err := m.lookup(id)
	if err != nil {
		return costcontrol.SessionSummary{}, err
	}
	summary, err := e.session.Disconnect(ctx)
	if err != nil {
		if errors.Is(err, realtime.ErrSessionClosed) || errors.Is(err, realtime.ErrNotConnected) {
			return costcontrol.SessionSummary{}, fmt.Errorf("%w: %s: %v", costcontrol.ErrSessionNotFound, id, err)
		}
		return costcontrol.SessionSummary{}, err
	}
	m.unregister(e)
	return summary, nil
}

// EndAllSessions starts disconnecting every registered session without
// waiting. It returns the number of sessions asked to end.
func (m *Manager) EndAllSessions(ctx context.Context) int {
	entries := m.snapshot()
	for _, e := range entries {
		go func(e *entry) {
			if _, err := e.session.Disconnect(context.WithoutCancel(ctx)); err != nil {
				log.Debug().Err(err).Str("session_id", e.id).Msg("session: end all")
			}
		}(e)
	}
	if len(entries) > 0 {
		log.Info().Int("count", len(entries)).Msg("session: ending all sessions")
	}
	return len(entries)
}

// Shutdown ends every session, waits for them to finish until ctx expires,
// and flushes the ledger. The Manager accepts no work afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.stop) })
	m.EndAllSessions(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("sessions still running at shutdown: %w", ctx.Err())
	}

	if ferr := m.tracker.Flush(context.WithoutCancel(ctx)); ferr != nil {
		log.Error().Err(ferr).Msg("session: ledger flush failed at shutdown")
		err = errors.Join(err, ferr)
	}
	return err
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Manager) snapshot() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e)
	}
	return out
}

// GetActiveSessions returns stats for every registered session.
func (m *Manager) GetActiveSessions(ctx context.Context) ActiveSessions {
	entries := m.snapshot()
	infos := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		info := SessionInfo{
			UserID:     e.userID,
			State:      e.session.State().String(),
			UpstreamID: e.session.UpstreamID(),
		}
		if stats, err := m.tracker.SessionStats(e.id); err == nil {
			info.SessionStats = stats
		} else {
			info.SessionID = e.id
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })

	return ActiveSessions{
		ActiveCount:  len(infos),
		Sessions:     infos,
		DailySummary: m.tracker.DailySummary(ctx),
	}
}

// GetSession returns stats for one registered session.
func (m *Manager) GetSession(id string) (SessionInfo, error) {
	e, err := m.lookup(id)
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{UserID: e.userID, State: e.session.State().String(), UpstreamID: e.session.UpstreamID()}
	info.SessionID = id
	if stats, err := m.tracker.SessionStats(id); err == nil {
		info.SessionStats = stats
	}
	return info, nil
}

// GetCostSummary returns today's usage, limits and remaining budget.
func (m *Manager) GetCostSummary(ctx context.Context) costcontrol.DailySummary {
	return m.tracker.DailySummary(ctx)
}

// PendingCount returns the number of issued ids not yet started.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// UpdateLimits replaces the cost limits after validating them.
func (m *Manager) UpdateLimits(limits costcontrol.CostLimits) error {
	return m.tracker.UpdateLimits(limits)
}

// =============================================================================
// PENDING CLEANUP
// =============================================================================

func (m *Manager) cleanupLoop() {
	interval := m.cfg.PendingTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanupPending(time.Now())
		}
	}
}

func (m *Manager) cleanupPending(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.PendingTTL)
	for id, p := range m.pending {
		if p.createdAt.Before(cutoff) {
			delete(m.pending, id)
			log.Debug().Str("session_id", id).Msg("session: pending id expired")
		}
	}
}
