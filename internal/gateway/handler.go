// HTTP handlers for the session API.
//
// DESIGN: Each handler decodes its body, calls one session.Manager method and
// maps the error through statusFor. Admission denial is answered with the
// full RequestResult so clients can show the reason and remaining budget.
//
//   POST   /api/sessions                  -> RequestSession
//   POST   /api/sessions/{id}/start       -> StartSession
//   POST   /api/sessions/{id}/messages    -> SendText
//   POST   /api/sessions/{id}/audio/start -> StartAudioCapture
//   POST   /api/sessions/{id}/audio/stop  -> StopAudioCapture
//   DELETE /api/sessions/{id}             -> EndSession (or CancelRequest)
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/realtime"
	"github.com/compresr/realtime-gateway/internal/session"
)

// =============================================================================
// SERVICE
// =============================================================================

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Time:           time.Now().UTC(),
		Version:        Version,
		ActiveSessions: g.manager.Tracker().ActiveCount(),
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, StatusResponse{
		ActiveSessions: g.manager.GetActiveSessions(r.Context()),
		PendingCount:   g.manager.PendingCount(),
		Uptime:         time.Since(g.startedAt).Truncate(time.Second).String(),
	})
}

func (g *Gateway) handleCosts(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.manager.GetCostSummary(r.Context()))
}

// handleUpdateLimits replaces the cost limits at runtime.
// Restricted to localhost: limits are an operator control.
func (g *Gateway) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		g.writeError(w, "forbidden", http.StatusForbidden)
		return
	}
	limits := g.manager.Tracker().Limits()
	if err := decodeJSON(r, &limits); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.manager.UpdateLimits(limits); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("gateway: limits updated via API")
	g.writeJSON(w, http.StatusOK, g.manager.GetCostSummary(r.Context()))
}

// =============================================================================
// SESSIONS
// =============================================================================

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.manager.GetActiveSessions(r.Context()))
}

func (g *Gateway) handleRequestSession(w http.ResponseWriter, r *http.Request) {
	var body requestSessionBody
	if err := decodeJSON(r, &body); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := g.manager.RequestSession(r.Context(), body.UserID)
	if err != nil {
		if errors.Is(err, costcontrol.ErrAdmissionDenied) {
			g.writeJSON(w, http.StatusTooManyRequests, result)
			return
		}
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusCreated, result)
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := g.manager.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusOK, info)
}

func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body startSessionBody
	if err := decodeJSON(r, &body); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	// The session outlives this request; only the handshake is bounded by it.
	result, err := g.manager.StartSession(r.Context(), id, body.Confirmed)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("gateway: start failed")
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleSendText(w http.ResponseWriter, r *http.Request) {
	var body sendTextBody
	if err := decodeJSON(r, &body); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := g.manager.SendText(r.Context(), id, body.Text); err != nil {
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusAccepted, AcceptedResponse{SessionID: id, Status: "sent"})
}

func (g *Gateway) handleAudioStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.manager.StartAudioCapture(id); err != nil {
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusOK, AcceptedResponse{SessionID: id, Status: "capturing"})
}

func (g *Gateway) handleAudioStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.manager.StopAudioCapture(id); err != nil {
		g.writeError(w, err.Error(), statusFor(err))
		return
	}
	g.writeJSON(w, http.StatusOK, AcceptedResponse{SessionID: id, Status: "stopped"})
}

// handleEndSession ends a running session, or withdraws an id that was
// requested but never started.
func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := g.manager.EndSession(r.Context(), id)
	if err == nil {
		g.writeJSON(w, http.StatusOK, EndSessionResponse{SessionID: id, Summary: &summary})
		return
	}
	if errors.Is(err, costcontrol.ErrSessionNotFound) && g.manager.CancelRequest(id) == nil {
		g.writeJSON(w, http.StatusOK, EndSessionResponse{SessionID: id, Cancelled: true})
		return
	}
	g.writeError(w, err.Error(), statusFor(err))
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, costcontrol.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, realtime.ErrNotConnected),
		errors.Is(err, realtime.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, costcontrol.ErrAdmissionDenied), errors.Is(err, costcontrol.ErrLimitBreached):
		return http.StatusTooManyRequests
	case errors.Is(err, realtime.ErrConnectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, realtime.ErrCapabilityUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
