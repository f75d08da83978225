package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/realtime-gateway/internal/config"
	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/gateway"
	"github.com/compresr/realtime-gateway/internal/ledger"
	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/realtime"
	"github.com/compresr/realtime-gateway/internal/session"
	"github.com/compresr/realtime-gateway/internal/utils"
)

type serveOptions struct {
	configPath string
	port       int
	debug      bool
	noWatch    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (defaults apply when omitted)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, fmt.Sprintf("Override listen port (default: %d)", config.DefaultPort))
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload limits when the config file changes")
	return cmd
}

// loadConfig reads the config file, or the defaults when path is empty, and
// applies the command-line overrides.
func loadConfig(path string, port int) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.LoadFromBytes([]byte("{}"))
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}
	if port != 0 {
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(opts.configPath, opts.port)
	if err != nil {
		return err
	}
	if cfg.Upstream.APIKey == "" {
		return errors.New("no upstream API key: set OPENAI_API_KEY or upstream.api_key")
	}

	logCloser, err := setupLogging(cfg.Monitoring, opts.debug)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	printStep("Loading ledger from " + utils.RedactURL(cfg.Storage.URL))
	store, err := ledger.OpenStore(ctx, cfg.Storage.URL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	l, err := ledger.Open(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	// Cost control
	tracker, err := costcontrol.NewTracker(cfg.Limits, l,
		costcontrol.WithPricing(cfg.Pricing),
		costcontrol.WithCountdownFraction(cfg.Sessions.DurationWarningFraction),
	)
	if err != nil {
		return err
	}

	// Monitoring
	metrics := monitoring.NewMetricsCollector()
	telemetry, err := monitoring.NewTracker(cfg.Monitoring.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer telemetry.Close()

	// Sessions
	dialer := &realtime.WSDialer{
		URL:        cfg.Upstream.URL,
		APIKey:     cfg.Upstream.APIKey,
		Header:     http.Header{"OpenAI-Beta": []string{cfg.Upstream.BetaHeader}},
		MaxRetries: cfg.Upstream.DialRetries,
	}
	hub := gateway.NewHub(metrics)
	manager := session.NewManager(cfg.SessionConfig(), tracker, dialer, hub,
		session.WithMetrics(metrics),
		session.WithTelemetry(telemetry),
		session.WithTokenCounter(costcontrol.NewTokenCounter(cfg.Sessions.TokenEncoding)),
	)

	gw := gateway.New(cfg, manager, hub, metrics, telemetry)
	gw.RecordInit()

	if opts.configPath != "" && !opts.noWatch {
		watcher, err := config.NewWatcher(opts.configPath, cfg.Limits, manager.UpdateLimits)
		if err != nil {
			log.Warn().Err(err).Msg("config: hot reload disabled")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("upstream", cfg.Upstream.URL).
		Str("api_key", utils.MaskKey(cfg.Upstream.APIKey)).
		Str("storage", utils.RedactURL(cfg.Storage.URL)).
		Msg("gateway: configured")
	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		shutdown(gw, cfg)
		return err
	case <-ctx.Done():
		log.Info().Msg("gateway: shutting down")
	}
	shutdown(gw, cfg)
	return <-errCh
}

func shutdown(gw *gateway.Gateway, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway: shutdown incomplete")
	}
}

func printStartupSummary(cfg *config.Config) {
	printHeader("Realtime Gateway " + version)
	printInfo("Listening:  http://" + cfg.Server.Addr())
	printInfo("Upstream:   " + cfg.Upstream.URL)
	printInfo("API key:    " + utils.MaskKeyShort(cfg.Upstream.APIKey))
	printInfo("Storage:    " + utils.RedactURL(cfg.Storage.URL))
	printInfo(fmt.Sprintf("Limits:     %s/session, %s/day, %d min/session, %d sessions/day",
		formatUSD(cfg.Limits.MaxCostPerSession), formatUSD(cfg.Limits.MaxCostPerDay),
		cfg.Limits.MaxSessionDurationSeconds/60, cfg.Limits.MaxDailySessions))
	if !cfg.Sessions.RequireConfirmation {
		printWarn("Sessions start without user confirmation")
	}
	printSuccess("Dashboard:  http://" + cfg.Server.Addr() + "/dashboard")
	fmt.Println()
}
