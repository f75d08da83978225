package gateway

import (
	"time"

	"github.com/compresr/realtime-gateway/internal/config"
	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/utils"
)

// RecordInit writes the startup record to telemetry.
func (g *Gateway) RecordInit() {
	g.telemetry.RecordInit(buildInitEvent(g.cfg))
}

func buildInitEvent(cfg *config.Config) *monitoring.InitEvent {
	return &monitoring.InitEvent{
		Timestamp:         time.Now(),
		Event:             "gateway_init",
		Version:           Version,
		ListenAddr:        cfg.Server.Addr(),
		UpstreamURL:       cfg.Upstream.URL,
		StorageURL:        utils.RedactURL(cfg.Storage.URL),
		MaxCostPerSession: cfg.Limits.MaxCostPerSession,
		MaxCostPerDay:     cfg.Limits.MaxCostPerDay,
		MaxDurationSecs:   cfg.Limits.MaxSessionDurationSeconds,
		MaxDailySessions:  cfg.Limits.MaxDailySessions,
		AudioEnabled:      cfg.Sessions.AudioEnabled,
	}
}
