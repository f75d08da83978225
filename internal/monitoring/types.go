// Package monitoring - types.go defines shared types.
//
// DESIGN: Telemetry records are plain structs serialized one per line.
//
// TYPES:
//   - SessionEvent:    one line per finished (or failed) session
//   - InitEvent:       one line per gateway start
//   - TelemetryConfig: where the JSONL files go
package monitoring

import "time"

// SessionOutcome classifies how a session ended.
type SessionOutcome string

const (
	OutcomeCompleted     SessionOutcome = "completed"
	OutcomeBreached      SessionOutcome = "breached"
	OutcomeError         SessionOutcome = "error"
	OutcomeDenied        SessionOutcome = "denied"
	OutcomeConnectFailed SessionOutcome = "connect_failed"
	OutcomeCancelled     SessionOutcome = "cancelled"
)

// SessionEvent captures the outcome of one session.
type SessionEvent struct {
	Timestamp          time.Time      `json:"timestamp"`
	SessionID          string         `json:"session_id"`
	UserID             string         `json:"user_id,omitempty"`
	UpstreamSessionID  string         `json:"upstream_session_id,omitempty"`
	Outcome            SessionOutcome `json:"outcome"`
	Reason             string         `json:"reason,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds"`
	Cost               float64        `json:"cost"`
	AudioInputSeconds  float64        `json:"audio_input_seconds"`
	AudioOutputSeconds float64        `json:"audio_output_seconds"`
	DailyCost          float64        `json:"daily_cost"`
	DailySessions      int            `json:"daily_sessions"`
	Persisted          bool           `json:"persisted"`
}

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	Event             string    `json:"event"`
	Version           string    `json:"version,omitempty"`
	ListenAddr        string    `json:"listen_addr"`
	UpstreamURL       string    `json:"upstream_url"`
	StorageURL        string    `json:"storage_url"`
	MaxCostPerSession float64   `json:"max_cost_per_session"`
	MaxCostPerDay     float64   `json:"max_cost_per_day"`
	MaxDurationSecs   int       `json:"max_session_duration_seconds"`
	MaxDailySessions  int       `json:"max_daily_sessions"`
	AudioEnabled      bool      `json:"audio_enabled"`
}

// TelemetryConfig configures JSONL telemetry.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`      // session events
	LogToStdout bool   `yaml:"log_to_stdout"` // also log a one-line summary per event
}
