// Package gateway serves the session manager over HTTP.
//
// DESIGN: A thin JSON API over session.Manager plus one websocket per
// session for event push (see hub.go). The Manager is built by the caller
// and injected; the gateway owns only the HTTP server and the Hub.
//
// FILES:
//   - gateway.go:      Gateway, router, server lifecycle, shared helpers
//   - handler.go:      session API handlers
//   - events.go:       websocket event stream
//   - hub.go:          event fan-out (realtime.EventSink)
//   - stats.go:        GET /stats
//   - dashboard.go:    GET /dashboard
//   - init_logging.go: startup telemetry record
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/config"
	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/session"
)

// Version is reported by /health. Set at build time by cmd.
var Version = "dev"

// Gateway is the HTTP face of the session manager.
type Gateway struct {
	cfg       *config.Config
	manager   *session.Manager
	hub       *Hub
	metrics   *monitoring.MetricsCollector
	telemetry *monitoring.Tracker
	startedAt time.Time

	server *http.Server
}

// New creates a Gateway. hub must be the EventSink manager was built with.
func New(cfg *config.Config, manager *session.Manager, hub *Hub, metrics *monitoring.MetricsCollector, telemetry *monitoring.Tracker) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		manager:   manager,
		hub:       hub,
		metrics:   metrics,
		telemetry: telemetry,
		startedAt: time.Now(),
	}
	g.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           g.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return g
}

// Handler returns the routed handler with CORS applied.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/stats", g.handleStats)
	r.Get("/dashboard", g.handleDashboard)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", g.handleStatus)
		api.Get("/costs", g.handleCosts)
		api.Put("/limits", g.handleUpdateLimits)

		api.Route("/sessions", func(s chi.Router) {
			s.Get("/", g.handleListSessions)
			s.Post("/", g.handleRequestSession)
			s.Route("/{id}", func(one chi.Router) {
				one.Get("/", g.handleGetSession)
				one.Delete("/", g.handleEndSession)
				one.Post("/start", g.handleStartSession)
				one.Post("/messages", g.handleSendText)
				one.Post("/audio/start", g.handleAudioStart)
				one.Post("/audio/stop", g.handleAudioStop)
				one.Get("/events", g.handleEvents)
			})
		})
	})

	origins := g.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Start serves until the server is shut down. It returns nil after Shutdown.
func (g *Gateway) Start() error {
	log.Info().Str("addr", g.server.Addr).Msg("gateway: listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, ends every session and flushes the ledger.
func (g *Gateway) Shutdown(ctx context.Context) error {
	httpErr := g.server.Shutdown(ctx)
	mgrErr := g.manager.Shutdown(ctx)
	g.hub.Close()
	return errors.Join(httpErr, mgrErr)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// writeJSON writes v as a single JSON line. HTML characters are not escaped,
// so user text and error messages reach clients as sent.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("gateway: failed to encode response")
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":{"message":"failed to encode response","type":"gateway_error"}}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, config.MaxRequestBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// isLoopback reports whether remoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// originPatterns converts allowed origins to websocket origin host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
