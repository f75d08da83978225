package costcontrol

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/ledger"
)

// DefaultCountdownFraction is the share of the duration limit after which the
// periodic check emits the "session will end" countdown warning.
const DefaultCountdownFraction = 0.9

// Tracker owns active session state and the daily ledger.
//
// Admission counts in-flight sessions as already spent: a session occupies a
// daily slot from StartSession on, and its accrued cost counts against the
// daily budget before it is written to the ledger.
type Tracker struct {
	ledger            *ledger.Ledger
	now               func() time.Time
	countdownFraction float64

	mu       sync.Mutex
	limits   CostLimits
	pricing  Pricing
	sessions map[string]*SessionState
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPricing overrides DefaultPricing.
func WithPricing(p Pricing) TrackerOption {
	return func(t *Tracker) { t.pricing = p }
}

// WithCountdownFraction overrides DefaultCountdownFraction. 0 disables the countdown.
func WithCountdownFraction(f float64) TrackerOption {
	return func(t *Tracker) { t.countdownFraction = f }
}

// NewTracker creates a tracker over l.
func NewTracker(limits CostLimits, l *ledger.Ledger, opts ...TrackerOption) (*Tracker, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		ledger:            l,
		now:               time.Now,
		countdownFraction: DefaultCountdownFraction,
		limits:            limits,
		pricing:           DefaultPricing(),
		sessions:          make(map[string]*SessionState),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.pricing.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// =============================================================================
// ADMISSION
// =============================================================================

// CanStartSession evaluates admission against today's usage without
// reserving anything.
func (t *Tracker) CanStartSession(ctx context.Context) AdmissionResult {
	t.ledger.Roll(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	return EvaluateAdmission(t.usageLocked(ctx), t.limits)
}

// StartSession re-evaluates admission and registers id in the same critical
// section, so concurrent callers can never together exceed a daily limit.
// A denial returns the result together with ErrAdmissionDenied.
func (t *Tracker) StartSession(ctx context.Context, id string) (AdmissionResult, error) {
	t.ledger.Roll(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; ok {
		return AdmissionResult{Warnings: []string{}}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	result := EvaluateAdmission(t.usageLocked(ctx), t.limits)
	if !result.Allowed {
		log.Info().Str("session_id", id).Str("reason", result.Reason).Msg("costcontrol: admission denied")
		return result, fmt.Errorf("%w: %s", ErrAdmissionDenied, result.Reason)
	}

	t.sessions[id] = newSessionState(id, t.now())
	// The new session occupies a slot now.
	result.Remaining.Sessions = max(0, result.Remaining.Sessions-1)

	log.Info().Str("session_id", id).Int("active", len(t.sessions)).Msg("costcontrol: session started")
	return result, nil
}

func (t *Tracker) usageLocked(ctx context.Context) DailyUsage {
	totals := t.ledger.Totals(ctx)
	usage := DailyUsage{Cost: totals.Cost, Sessions: totals.Sessions + len(t.sessions)}
	for _, s := range t.sessions {
		usage.Cost += s.Cost
	}
	return usage
}

// =============================================================================
// USAGE
// =============================================================================

// TrackUsage accrues seconds of audio in direction to session id.
func (t *Tracker) TrackUsage(id string, dir Direction, seconds float64) (UsageResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return UsageResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// Negative and non-finite measurements accrue nothing.
	if !(seconds > 0) || math.IsInf(seconds, 1) {
		seconds = 0
	}
	cost := CalculateAudioCost(seconds, dir, t.pricing.Audio)
	s.Cost += cost
	if dir == DirectionInput {
		s.AudioInputSeconds += seconds
	} else {
		s.AudioOutputSeconds += seconds
	}

	result := EvaluateUsage(s, t.limits, t.now())
	result.Cost = cost
	t.logResult(id, result)
	return result, nil
}

// TrackText accrues tokens of text in direction to session id.
func (t *Tracker) TrackText(id string, dir Direction, tokens int) (UsageResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return UsageResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	tokens = max(0, tokens)
	cost := CalculateTextCost(tokens, dir, t.pricing.Text)
	s.Cost += cost
	if dir == DirectionInput {
		s.TextInputTokens += tokens
	} else {
		s.TextOutputTokens += tokens
	}

	result := EvaluateUsage(s, t.limits, t.now())
	result.Cost = cost
	t.logResult(id, result)
	return result, nil
}

// CheckSession runs the periodic elapsed-time check without accruing usage.
func (t *Tracker) CheckSession(id string) (UsageResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return UsageResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	result := EvaluateDuration(s, t.limits, t.now(), t.countdownFraction)
	t.logResult(id, result)
	return result, nil
}

func (t *Tracker) logResult(id string, r UsageResult) {
	for _, w := range r.Warnings {
		log.Warn().Str("session_id", id).Str("warning", w).Msg("costcontrol: limit warning")
	}
	if r.ShouldTerminate {
		log.Debug().Str("session_id", id).Str("reason", r.Reason).Float64("cost", r.SessionCost).Msg("costcontrol: session over limit")
	}
}

// =============================================================================
// END
// =============================================================================

// EndSession finalizes id: the record is appended to the ledger under the
// lock, then persisted after it is released. A second call for the same id
// returns ErrSessionNotFound and leaves the ledger untouched.
func (t *Tracker) EndSession(ctx context.Context, id string) (SessionSummary, error) {
	t.ledger.Roll(ctx)

	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return SessionSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(t.sessions, id)

	end := t.now()
	rec := ledger.SessionRecord{
		SessionID:          s.ID,
		StartTime:          s.StartTime,
		EndTime:            end,
		DurationSeconds:    math.Max(0, end.Sub(s.StartTime).Seconds()),
		Cost:               s.Cost,
		AudioInputSeconds:  s.AudioInputSeconds,
		AudioOutputSeconds: s.AudioOutputSeconds,
	}
	snap := t.ledger.Append(ctx, rec)
	t.mu.Unlock()

	summary := SessionSummary{Record: rec, DailyTotals: snap.Ledger.Totals(), Persisted: true}
	if err := t.ledger.Persist(ctx, snap); err != nil {
		summary.Persisted = false
		log.Error().Err(err).Str("session_id", id).Msg("costcontrol: ledger write failed, will retry on next write")
	}

	log.Info().
		Str("session_id", id).
		Float64("cost", rec.Cost).
		Float64("duration_s", rec.DurationSeconds).
		Float64("daily_cost", summary.DailyTotals.Cost).
		Int("daily_sessions", summary.DailyTotals.Sessions).
		Msg("costcontrol: session ended")
	return summary, nil
}

// CancelSession drops id without writing a ledger record. Used when a session
// was admitted but never became active.
func (t *Tracker) CancelSession(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(t.sessions, id)
	log.Info().Str("session_id", id).Msg("costcontrol: session reservation released")
	return nil
}

// Flush retries any ledger write that has not landed yet.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.ledger.Flush(ctx)
}

// =============================================================================
// READS
// =============================================================================

// DailySummary returns today's totals, limits and headroom.
func (t *Tracker) DailySummary(ctx context.Context) DailySummary {
	t.ledger.Roll(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	totals := t.ledger.Totals(ctx)
	usage := t.usageLocked(ctx)
	return DailySummary{
		Totals: totals,
		Limits: t.limits,
		Remaining: Remaining{
			Cost:     math.Max(0, t.limits.MaxCostPerDay-usage.Cost),
			Sessions: max(0, t.limits.MaxDailySessions-usage.Sessions),
		},
		ActiveCount: len(t.sessions),
		ActiveCost:  usage.Cost - totals.Cost,
	}
}

// SessionStats returns a snapshot of active session id.
func (t *Tracker) SessionStats(id string) (SessionStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return SessionStats{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return t.statsLocked(s), nil
}

// ActiveSessions returns snapshots of all active sessions, oldest first.
func (t *Tracker) ActiveSessions() []SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SessionStats, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, t.statsLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// ActiveCount returns the number of active sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) statsLocked(s *SessionState) SessionStats {
	elapsed := max(0, t.now().Sub(s.StartTime))
	return SessionStats{
		SessionID:          s.ID,
		StartTime:          s.StartTime,
		Elapsed:            elapsed,
		Cost:               s.Cost,
		AudioInputSeconds:  s.AudioInputSeconds,
		AudioOutputSeconds: s.AudioOutputSeconds,
		TextInputTokens:    s.TextInputTokens,
		TextOutputTokens:   s.TextOutputTokens,
		RemainingCost:      math.Max(0, t.limits.MaxCostPerSession-s.Cost),
		RemainingTime:      max(0, t.limits.MaxSessionDuration()-elapsed),
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// Limits returns the current limits.
func (t *Tracker) Limits() CostLimits {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits
}

// Pricing returns the current pricing.
func (t *Tracker) Pricing() Pricing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pricing
}

// UpdateLimits replaces the limits. Active sessions are checked against the
// new values from their next evaluation on.
func (t *Tracker) UpdateLimits(limits CostLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	old := t.limits
	t.limits = limits
	t.mu.Unlock()

	log.Info().
		Float64("max_cost_per_session", limits.MaxCostPerSession).
		Float64("max_cost_per_day", limits.MaxCostPerDay).
		Int("max_session_duration_seconds", limits.MaxSessionDurationSeconds).
		Int("max_daily_sessions", limits.MaxDailySessions).
		Bool("changed", old != limits).
		Msg("costcontrol: limits updated")
	return nil
}
