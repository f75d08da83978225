// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - sessions:  requested, denied, started, ended, breached, connect failures
//   - audio:     metered input/output audio (milliseconds)
//   - text:      metered input/output tokens
//   - events:    events delivered to subscribers and events dropped
//
// All counters are atomics; a nil *MetricsCollector is valid and records nothing.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Session lifecycle counters
	requested       atomic.Int64
	denied          atomic.Int64
	started         atomic.Int64
	ended           atomic.Int64
	breached        atomic.Int64
	connectFailures atomic.Int64
	upstreamErrors  atomic.Int64

	// Metered usage
	audioInputMillis  atomic.Int64
	audioOutputMillis atomic.Int64
	textInputTokens   atomic.Int64
	textOutputTokens  atomic.Int64

	// Event push
	eventsDelivered atomic.Int64
	eventsDropped   atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records an admission request and its outcome.
func (mc *MetricsCollector) RecordRequest(allowed bool) {
	if mc == nil {
		return
	}
	mc.requested.Add(1)
	if !allowed {
		mc.denied.Add(1)
	}
}

// RecordStarted records a session that became active.
func (mc *MetricsCollector) RecordStarted() {
	if mc != nil {
		mc.started.Add(1)
	}
}

// RecordEnded records a finalized session. breached marks a forced termination.
func (mc *MetricsCollector) RecordEnded(breached bool) {
	if mc == nil {
		return
	}
	mc.ended.Add(1)
	if breached {
		mc.breached.Add(1)
	}
}

// RecordConnectFailure records a failed upstream handshake.
func (mc *MetricsCollector) RecordConnectFailure() {
	if mc != nil {
		mc.connectFailures.Add(1)
	}
}

// RecordUpstreamError records an error event or transport failure on a live session.
func (mc *MetricsCollector) RecordUpstreamError() {
	if mc != nil {
		mc.upstreamErrors.Add(1)
	}
}

// RecordAudio records metered audio seconds. input selects the direction.
func (mc *MetricsCollector) RecordAudio(input bool, seconds float64) {
	if mc == nil || seconds <= 0 {
		return
	}
	ms := int64(seconds * 1000)
	if input {
		mc.audioInputMillis.Add(ms)
	} else {
		mc.audioOutputMillis.Add(ms)
	}
}

// RecordText records metered text tokens. input selects the direction.
func (mc *MetricsCollector) RecordText(input bool, tokens int) {
	if mc == nil || tokens <= 0 {
		return
	}
	if input {
		mc.textInputTokens.Add(int64(tokens))
	} else {
		mc.textOutputTokens.Add(int64(tokens))
	}
}

// RecordEventDelivered records an event pushed to a subscriber.
func (mc *MetricsCollector) RecordEventDelivered() {
	if mc != nil {
		mc.eventsDelivered.Add(1)
	}
}

// RecordEventDropped records an event dropped because a subscriber was too slow.
func (mc *MetricsCollector) RecordEventDropped() {
	if mc != nil {
		mc.eventsDropped.Add(1)
	}
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns the counters as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"sessions_requested": mc.requested.Load(),
		"sessions_denied":    mc.denied.Load(),
		"sessions_started":   mc.started.Load(),
		"sessions_ended":     mc.ended.Load(),
		"sessions_breached":  mc.breached.Load(),
		"connect_failures":   mc.connectFailures.Load(),
		"upstream_errors":    mc.upstreamErrors.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	started := mc.started.Load()
	ended := mc.ended.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Sessions: SessionCounters{
			Requested:       mc.requested.Load(),
			Denied:          mc.denied.Load(),
			Started:         started,
			Ended:           ended,
			Breached:        mc.breached.Load(),
			ConnectFailures: mc.connectFailures.Load(),
			UpstreamErrors:  mc.upstreamErrors.Load(),
			Live:            max(0, started-ended),
		},
		Usage: UsageCounters{
			AudioInputSeconds:  float64(mc.audioInputMillis.Load()) / 1000,
			AudioOutputSeconds: float64(mc.audioOutputMillis.Load()) / 1000,
			TextInputTokens:    mc.textInputTokens.Load(),
			TextOutputTokens:   mc.textOutputTokens.Load(),
		},
		Events: EventCounters{
			Delivered: mc.eventsDelivered.Load(),
			Dropped:   mc.eventsDropped.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartedAt     string          `json:"started_at"`
	Sessions      SessionCounters `json:"sessions"`
	Usage         UsageCounters   `json:"usage"`
	Events        EventCounters   `json:"events"`
}

// SessionCounters holds session lifecycle counts.
type SessionCounters struct {
	Requested       int64 `json:"requested"`
	Denied          int64 `json:"denied"`
	Started         int64 `json:"started"`
	Ended           int64 `json:"ended"`
	Breached        int64 `json:"breached"`
	ConnectFailures int64 `json:"connect_failures"`
	UpstreamErrors  int64 `json:"upstream_errors"`
	Live            int64 `json:"live"`
}

// UsageCounters holds metered usage since start.
type UsageCounters struct {
	AudioInputSeconds  float64 `json:"audio_input_seconds"`
	AudioOutputSeconds float64 `json:"audio_output_seconds"`
	TextInputTokens    int64   `json:"text_input_tokens"`
	TextOutputTokens   int64   `json:"text_output_tokens"`
}

// EventCounters holds event push counts.
type EventCounters struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
