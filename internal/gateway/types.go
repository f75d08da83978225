// Package gateway types - request and response bodies of the session API.
//
// DESIGN: Result types from session and costcontrol are serialized as-is;
// only what the HTTP layer adds or accepts is defined here.
package gateway

import (
	"time"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/session"
)

// =============================================================================
// REQUESTS
// =============================================================================

// requestSessionBody is POST /api/sessions.
type requestSessionBody struct {
	UserID string `json:"user_id"`
}

// startSessionBody is POST /api/sessions/{id}/start.
type startSessionBody struct {
	Confirmed bool `json:"confirmed"`
}

// sendTextBody is POST /api/sessions/{id}/messages.
type sendTextBody struct {
	Text string `json:"text"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// HealthResponse is GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	Time           time.Time `json:"time"`
	Version        string    `json:"version"`
	ActiveSessions int       `json:"active_sessions"`
}

// StatusResponse is GET /api/status.
type StatusResponse struct {
	session.ActiveSessions
	PendingCount int    `json:"pending_count"`
	Uptime       string `json:"uptime"`
}

// EndSessionResponse is DELETE /api/sessions/{id}.
type EndSessionResponse struct {
	SessionID string                      `json:"session_id"`
	Cancelled bool                        `json:"cancelled,omitempty"`
	Summary   *costcontrol.SessionSummary `json:"summary,omitempty"`
}

// AcceptedResponse acknowledges an action that completes asynchronously.
type AcceptedResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}
