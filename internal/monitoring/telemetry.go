// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker appends structured events as JSONL (one JSON object per line):
//   - SessionEvent: every session outcome (completed, breached, error, denied)
//   - InitEvent:    gateway startup, written next to the session log as init.jsonl
//
// Events are appended immediately so the file can be tailed.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config         TelemetryConfig
	sessionLogPath string
	initLogPath    string
	sessionCount   int
	mu             sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{
		config: cfg,
	}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	t.sessionLogPath = cfg.LogPath
	t.initLogPath = filepath.Join(filepath.Dir(cfg.LogPath), "init.jsonl")
	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- configured path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// RecordSession records a session outcome.
func (t *Tracker) RecordSession(event *SessionEvent) {
	if t == nil || !t.config.Enabled || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		log.Info().
			Str("session_id", event.SessionID).
			Str("outcome", string(event.Outcome)).
			Float64("cost", event.Cost).
			Float64("duration_s", event.DurationSeconds).
			Msg("telemetry")
	}

	if t.sessionLogPath != "" {
		if err := appendJSONL(t.sessionLogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.sessionLogPath).Msg("telemetry: failed to write session event")
		} else {
			t.sessionCount++
		}
	}
}

// RecordInit records a gateway start.
func (t *Tracker) RecordInit(event *InitEvent) {
	if t == nil || !t.config.Enabled || t.initLogPath == "" || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.initLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.initLogPath).Msg("telemetry: failed to write init event")
	}
}

// Close logs how many events were written.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionLogPath != "" && t.sessionCount > 0 {
		log.Info().
			Str("path", t.sessionLogPath).
			Int("events", t.sessionCount).
			Msg("telemetry: closed")
	}
	return nil
}
