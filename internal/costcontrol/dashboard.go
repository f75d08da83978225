package costcontrol

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

// HandleDashboard serves a self-refreshing HTML page with today's budget and
// the active sessions.
func (t *Tracker) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	summary := t.DailySummary(r.Context())
	sessions := t.ActiveSessions()
	limits := summary.Limits

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Realtime Gateway - Cost Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  h2 { color: #8b949e; font-size: 13px; margin: 24px 0 8px; text-transform: uppercase; letter-spacing: 1px; }
  .summary { display: flex; gap: 24px; padding: 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .stat-label { font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; }
  .stat-value { font-size: 24px; font-weight: bold; color: #f0f6fc; }
  .cost { color: #ffa657; font-weight: bold; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  .session-id { color: #58a6ff; }
  .bar-container { width: 100px; height: 8px; background: #21262d; border-radius: 4px; overflow: hidden; display: inline-block; vertical-align: middle; margin-right: 8px; }
  .bar { height: 100%; }
  .bar-ok { background: #3fb950; }
  .bar-warn { background: #d29922; }
  .bar-danger { background: #f85149; }
  .empty { text-align: center; padding: 40px; color: #8b949e; }
  .footer { margin-top: 16px; font-size: 11px; color: #484f58; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&b, "<h1>Realtime Gateway - %s</h1>\n<div class=\"summary\">\n", html.EscapeString(summary.Totals.Date))
	writeStat(&b, "Spent Today", fmt.Sprintf("$%s / $%s", formatCost(summary.Totals.Cost), formatCost(limits.MaxCostPerDay)), true)
	writeStat(&b, "Sessions", fmt.Sprintf("%d / %d", summary.Totals.Sessions, limits.MaxDailySessions), false)
	writeStat(&b, "Active", fmt.Sprintf("%d", summary.ActiveCount), false)
	writeStat(&b, "Audio", formatSeconds(summary.Totals.AudioSeconds), false)
	writeStat(&b, "Remaining", fmt.Sprintf("$%s", formatCost(summary.Remaining.Cost)), true)
	b.WriteString("</div>\n<h2>Active sessions</h2>\n")

	if len(sessions) == 0 {
		b.WriteString(`<div class="empty">No active sessions.</div>`)
	} else {
		b.WriteString(`<table>
<tr><th>Session</th><th>Elapsed</th><th>Audio in/out</th><th>Cost</th><th>Budget</th><th>Time left</th></tr>
`)
		for _, s := range sessions {
			pct := min(100, s.Cost/limits.MaxCostPerSession*100)
			barClass := "bar-ok"
			if pct > limits.WarningThreshold*100 {
				barClass = "bar-danger"
			} else if pct > 50 {
				barClass = "bar-warn"
			}
			fmt.Fprintf(&b, `<tr>
  <td class="session-id">%s</td>
  <td>%s</td>
  <td>%s / %s</td>
  <td class="cost">$%.4f</td>
  <td><div class="bar-container"><div class="bar %s" style="width:%.0f%%"></div></div>%.0f%%</td>
  <td>%s</td>
</tr>
`, html.EscapeString(s.SessionID), s.Elapsed.Truncate(time.Second),
				formatSeconds(s.AudioInputSeconds), formatSeconds(s.AudioOutputSeconds),
				s.Cost, barClass, pct, pct, s.RemainingTime.Truncate(time.Second))
		}
		b.WriteString(`</table>`)
	}

	b.WriteString(`
<div class="footer">Auto-refreshes every 5 seconds</div>
</body>
</html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func writeStat(b *strings.Builder, label, value string, cost bool) {
	class := "stat-value"
	if cost {
		class += " cost"
	}
	fmt.Fprintf(b, "  <div class=\"stat\"><div class=\"stat-label\">%s</div><div class=\"%s\">%s</div></div>\n",
		label, class, html.EscapeString(value))
}

// formatCost formats a dollar amount, using more decimal places for small values.
func formatCost(v float64) string {
	if v >= 1.0 {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.4f", v)
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Truncate(time.Second).String()
}
