// Package session - types.go defines the Manager's request and result types.
//
// DESIGN: The Manager is the only entry point the serving layer uses. It owns
// two maps: ids that were admitted but not started (pending, TTL-bound) and
// registered sessions (connecting or active). Everything about money lives in
// the costcontrol.Tracker the Manager is constructed with.
//
// TYPES:
//   - Config:        confirmation step, pending TTL, per-session tuning
//   - RequestResult: admission decision plus the issued id
//   - StartResult:   what a started session can do
//   - SessionInfo:   stats of one registered session
package session

import (
	"errors"
	"time"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/realtime"
)

var (
	// ErrConfirmationRequired is returned by StartSession when confirmation
	// is enabled and the caller did not confirm.
	ErrConfirmationRequired = errors.New("user confirmation required")

	// ErrSessionActive is returned when starting an id that is already registered.
	ErrSessionActive = errors.New("session already active")

	// ErrEmptyMessage is returned by SendText for blank text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrShuttingDown is returned by StartSession after Shutdown.
	ErrShuttingDown = errors.New("session manager shutting down")
)

// Config configures a Manager.
type Config struct {
	// RequireConfirmation makes StartSession fail until the caller confirms
	// the cost shown in RequestResult.ConfirmationMessage.
	RequireConfirmation bool

	// PendingTTL bounds how long an issued id may wait before StartSession.
	PendingTTL time.Duration

	// EstimatedCostPerMinute is shown to users; it does not affect enforcement.
	EstimatedCostPerMinute float64

	// AudioEnabled gives each session a PipeAudio fed by FeedAudio and starts
	// capture as soon as the session is active.
	AudioEnabled bool

	Session realtime.Config
}

// DefaultConfig returns the stock Manager configuration.
func DefaultConfig() Config {
	return Config{
		RequireConfirmation:    true,
		PendingTTL:             5 * time.Minute,
		EstimatedCostPerMinute: 0.30,
		AudioEnabled:           true,
		Session:                realtime.DefaultConfig(),
	}
}

// SessionLimits describes the per-session envelope shown before starting.
type SessionLimits struct {
	MaxCost                float64 `json:"max_cost"`
	MaxDurationMinutes     float64 `json:"max_duration_minutes"`
	EstimatedCostPerMinute float64 `json:"estimated_cost_per_minute"`
}

// RequestResult is the answer to RequestSession.
type RequestResult struct {
	costcontrol.AdmissionResult

	SessionID            string                   `json:"session_id,omitempty"`
	UserID               string                   `json:"user_id"`
	Limits               SessionLimits            `json:"limits"`
	RequiresConfirmation bool                     `json:"requires_confirmation"`
	ConfirmationMessage  string                   `json:"confirmation_message,omitempty"`
	DailySummary         costcontrol.DailySummary `json:"daily_summary"`
}

// StartResult is the answer to StartSession.
type StartResult struct {
	SessionID      string   `json:"session_id"`
	Warnings       []string `json:"warnings,omitempty"`
	AudioAvailable bool     `json:"audio_available"`
	AudioCapturing bool     `json:"audio_capturing"`
}

// SessionInfo describes one registered session.
type SessionInfo struct {
	costcontrol.SessionStats

	UserID     string `json:"user_id"`
	State      string `json:"state"`
	UpstreamID string `json:"upstream_id,omitempty"`
}

// ActiveSessions is the answer to GetActiveSessions.
type ActiveSessions struct {
	ActiveCount  int                      `json:"active_count"`
	Sessions     []SessionInfo            `json:"sessions"`
	DailySummary costcontrol.DailySummary `json:"daily_summary"`
}

type pending struct {
	userID    string
	createdAt time.Time
}
