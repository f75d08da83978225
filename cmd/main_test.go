package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/realtime-gateway/internal/config"
	"github.com/compresr/realtime-gateway/internal/ledger"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key-1234567890")

	cfg, err := loadConfig("", 0)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, "sk-test-key-1234567890", cfg.Upstream.APIKey)

	cfg, err = loadConfig("", 19123)
	require.NoError(t, err)
	assert.Equal(t, 19123, cfg.Server.Port)

	_, err = loadConfig("", 70000)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  max_daily_sessions: 3\n"), 0600))
	cfg, err = loadConfig(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Limits.MaxDailySessions)
}

func TestRunServe_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	err := runServe(context.Background(), serveOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestSetupLogging_JSONFile(t *testing.T) {
	saved, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = saved
		zerolog.SetGlobalLevel(level)
	})

	path := filepath.Join(t.TempDir(), "gateway.log")
	closer, err := setupLogging(config.MonitoringConfig{LogLevel: "warn", LogFormat: "json", LogOutput: path}, false)
	require.NoError(t, err)

	log.Info().Msg("filtered out")
	log.Warn().Str("session_id", "rt_a_1").Msg("gateway: kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered out")
	assert.Contains(t, string(data), `"session_id":"rt_a_1"`)
	assert.Contains(t, string(data), `"level":"warn"`)
}

func TestRunStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"active_count": 1,
			"sessions": [{"session_id":"rt_alice_0a1b2c3d","user_id":"alice","state":"active","elapsed":65000000000,"cost":0.126,"remaining_cost":0.375}],
			"daily_summary": {
				"totals": {"date":"2026-03-14","cost":1.5,"sessions":3},
				"limits": {"max_cost_per_day":10,"max_daily_sessions":20},
				"remaining": {"cost":8.5,"sessions":17}
			},
			"pending_count": 2,
			"uptime": "1h0m0s"
		}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out, newAPIClient(srv.URL)))

	text := out.String()
	assert.Contains(t, text, "$1.50 spent of $10.00, 3 of 20 sessions")
	assert.Contains(t, text, "Pending:   2")
	assert.Contains(t, text, "rt_alice_0a1b2c3d")
	assert.Contains(t, text, "1m5s")
	assert.Contains(t, text, "$0.13")
}

func TestRunEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/sessions/rt_live":
			_, _ = w.Write([]byte(`{"session_id":"rt_live","summary":{"record":{"sessionId":"rt_live","durationSeconds":42,"cost":0.2}}}`))
		case "/api/sessions/rt_pending":
			_, _ = w.Write([]byte(`{"session_id":"rt_pending","cancelled":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"session not found: rt_gone","type":"gateway_error"}}`))
		}
	}))
	defer srv.Close()
	c := newAPIClient(srv.URL)

	var out bytes.Buffer
	require.NoError(t, runEnd(context.Background(), &out, c, "rt_live"))
	assert.Contains(t, out.String(), "rt_live: ended after 42s, cost $0.20")

	out.Reset()
	require.NoError(t, runEnd(context.Background(), &out, c, "rt_pending"))
	assert.Contains(t, out.String(), "request withdrawn")

	err := runEnd(context.Background(), &out, c, "rt_gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found: rt_gone (HTTP 404)")
}

func TestRunCosts(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	store, err := ledger.NewFileStore(dir)
	require.NoError(t, err)
	l, err := ledger.Open(context.Background(), store, ledger.WithClock(func() time.Time { return day }))
	require.NoError(t, err)
	_, err = l.AppendSession(context.Background(), ledger.SessionRecord{
		SessionID:         "rt_alice_0a1b2c3d",
		StartTime:         day,
		EndTime:           day.Add(90 * time.Second),
		DurationSeconds:   90,
		Cost:              0.42,
		AudioInputSeconds: 30,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runCosts(context.Background(), &out, dir, "2026-03-14"))
	assert.Contains(t, out.String(), "2026-03-14: 1 sessions, $0.42")
	assert.Contains(t, out.String(), "rt_alice_0a1b2c3d")

	out.Reset()
	require.NoError(t, runCosts(context.Background(), &out, dir, "2026-03-15"))
	assert.Contains(t, out.String(), "No sessions recorded on 2026-03-15.")

	assert.Error(t, runCosts(context.Background(), &out, dir, "14/03/2026"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "realtime-gateway "+version)
}
