// Package gateway - dashboard.go serves the cost dashboard at /dashboard.
//
// DESIGN: The page itself is rendered by costcontrol.Tracker.HandleDashboard;
// the gateway only guards access.
package gateway

import (
	"net/http"
)

// handleDashboard serves the HTML cost dashboard.
// Restricted to localhost to prevent external access to cost data.
func (g *Gateway) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.manager.Tracker().HandleDashboard(w, r)
}
