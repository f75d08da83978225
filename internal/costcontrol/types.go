// Package costcontrol implements admission control and cost governance for
// realtime streaming sessions.
//
// DESIGN: A single Tracker owns the set of active sessions and the daily
// ledger. Every read-modify-write on either happens under one mutex; store
// writes happen after the mutex is released. Limit decisions are pure
// functions (policy.go) so they can be tested without a Tracker.
//
// Cost is accrued from metered usage (audio seconds per direction, text
// tokens per direction). Limits are enforced by the caller observing
// UsageResult.ShouldTerminate; the Tracker never tears anything down itself.
package costcontrol

import (
	"errors"
	"fmt"
	"time"

	"github.com/compresr/realtime-gateway/internal/ledger"
)

var (
	// ErrAdmissionDenied is returned when a daily limit blocks a new session.
	// It is a normal outcome; AdmissionResult.Reason carries the detail.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrSessionNotFound is returned for operations on an unknown or ended session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session id that is already active.
	ErrSessionExists = errors.New("session already exists")

	// ErrLimitBreached marks a forced termination for exceeding a session limit.
	ErrLimitBreached = errors.New("session limit breached")
)

// Termination reasons reported in UsageResult.Reason.
const (
	ReasonSessionCostLimit     = "session cost limit reached"
	ReasonSessionDurationLimit = "session duration limit reached"
	ReasonDailySessionLimit    = "daily session limit reached"
	ReasonDailyCostLimit       = "daily cost limit reached"
)

// Warning dedup keys stored in SessionState.WarningsSent.
const (
	warnSessionCost       = "session_cost_warning"
	warnSessionCostLimit  = "session_cost_limit"
	warnDurationApproach  = "session_duration_warning"
	warnDurationLimit     = "session_duration_limit"
	warnDurationCountdown = "session_duration_countdown"
)

// Direction is the flow direction of metered usage.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// CostLimits are the configured ceilings.
type CostLimits struct {
	MaxCostPerSession         float64 `yaml:"max_cost_per_session" json:"max_cost_per_session"`                 // USD
	MaxCostPerDay             float64 `yaml:"max_cost_per_day" json:"max_cost_per_day"`                         // USD
	MaxSessionDurationSeconds int     `yaml:"max_session_duration_seconds" json:"max_session_duration_seconds"` // wall time
	MaxDailySessions          int     `yaml:"max_daily_sessions" json:"max_daily_sessions"`
	WarningThreshold          float64 `yaml:"warning_threshold" json:"warning_threshold"` // fraction of a limit, (0,1]
}

// DefaultCostLimits returns the stock limits.
func DefaultCostLimits() CostLimits {
	return CostLimits{
		MaxCostPerSession:         0.50,
		MaxCostPerDay:             10.0,
		MaxSessionDurationSeconds: 300,
		MaxDailySessions:          50,
		WarningThreshold:          0.8,
	}
}

// Validate checks that every limit is positive and the threshold is a fraction.
func (l CostLimits) Validate() error {
	if l.MaxCostPerSession <= 0 {
		return fmt.Errorf("limits.max_cost_per_session must be > 0, got %f", l.MaxCostPerSession)
	}
	if l.MaxCostPerDay <= 0 {
		return fmt.Errorf("limits.max_cost_per_day must be > 0, got %f", l.MaxCostPerDay)
	}
	if l.MaxSessionDurationSeconds <= 0 {
		return fmt.Errorf("limits.max_session_duration_seconds must be > 0, got %d", l.MaxSessionDurationSeconds)
	}
	if l.MaxDailySessions <= 0 {
		return fmt.Errorf("limits.max_daily_sessions must be > 0, got %d", l.MaxDailySessions)
	}
	if l.WarningThreshold <= 0 || l.WarningThreshold > 1 {
		return fmt.Errorf("limits.warning_threshold must be in (0,1], got %f", l.WarningThreshold)
	}
	return nil
}

// MaxSessionDuration returns the duration limit as a time.Duration.
func (l CostLimits) MaxSessionDuration() time.Duration {
	return time.Duration(l.MaxSessionDurationSeconds) * time.Second
}

// DailyUsage is the input to admission: what today has consumed so far.
type DailyUsage struct {
	Cost     float64
	Sessions int
}

// Remaining is the headroom left under the daily limits.
type Remaining struct {
	Cost     float64 `json:"cost"`
	Sessions int     `json:"sessions"`
}

// AdmissionResult is the outcome of an admission check.
type AdmissionResult struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Warnings  []string  `json:"warnings"`
	Remaining Remaining `json:"remaining"`
}

// UsageResult is the outcome of accruing usage on (or checking) a session.
type UsageResult struct {
	Warnings        []string      `json:"warnings"`
	ShouldTerminate bool          `json:"should_terminate"`
	Reason          string        `json:"reason,omitempty"`
	Cost            float64       `json:"cost"`         // increment from this call
	SessionCost     float64       `json:"session_cost"` // accumulated
	Elapsed         time.Duration `json:"elapsed"`
	RemainingCost   float64       `json:"remaining_cost"`
	RemainingTime   time.Duration `json:"remaining_time"`
}

// SessionState is the live accounting of one active session. It is owned by
// the Tracker; callers only ever see copies via SessionStats.
type SessionState struct {
	ID                 string
	StartTime          time.Time
	Cost               float64
	AudioInputSeconds  float64
	AudioOutputSeconds float64
	TextInputTokens    int
	TextOutputTokens   int
	WarningsSent       map[string]bool

	// breach is sticky: once set, every later evaluation terminates.
	breach string
}

func newSessionState(id string, start time.Time) *SessionState {
	return &SessionState{
		ID:           id,
		StartTime:    start,
		WarningsSent: make(map[string]bool),
	}
}

// warnOnce records key and reports whether it was not sent before.
func (s *SessionState) warnOnce(key string) bool {
	if s.WarningsSent[key] {
		return false
	}
	s.WarningsSent[key] = true
	return true
}

// SessionStats is a read-only view of an active session.
type SessionStats struct {
	SessionID          string        `json:"session_id"`
	StartTime          time.Time     `json:"start_time"`
	Elapsed            time.Duration `json:"elapsed"`
	Cost               float64       `json:"cost"`
	AudioInputSeconds  float64       `json:"audio_input_seconds"`
	AudioOutputSeconds float64       `json:"audio_output_seconds"`
	TextInputTokens    int           `json:"text_input_tokens"`
	TextOutputTokens   int           `json:"text_output_tokens"`
	RemainingCost      float64       `json:"remaining_cost"`
	RemainingTime      time.Duration `json:"remaining_time"`
}

// SessionSummary is returned when a session ends.
type SessionSummary struct {
	Record      ledger.SessionRecord `json:"record"`
	DailyTotals ledger.Totals        `json:"daily_totals"`
	// Persisted is false when the ledger write failed; the in-memory ledger
	// still holds the record and the next write retries.
	Persisted bool `json:"persisted"`
}

// DailySummary is a snapshot of today's usage.
type DailySummary struct {
	Totals      ledger.Totals `json:"totals"`
	Limits      CostLimits    `json:"limits"`
	Remaining   Remaining     `json:"remaining"`
	ActiveCount int           `json:"active_count"`
	ActiveCost  float64       `json:"active_cost"`
}
