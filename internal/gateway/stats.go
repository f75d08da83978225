// Package gateway - stats.go exposes operational metrics as JSON.
//
// GET /stats returns session counters, metered usage and today's budget.
package gateway

import (
	"net/http"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/monitoring"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	monitoring.StatsResponse
	Version string                   `json:"version"`
	Pending int                      `json:"pending_sessions"`
	Today   costcontrol.DailySummary `json:"today"`
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.writeJSON(w, http.StatusOK, StatsResponse{
		StatsResponse: g.metrics.FullStats(),
		Version:       Version,
		Pending:       g.manager.PendingCount(),
		Today:         g.manager.GetCostSummary(r.Context()),
	})
}
