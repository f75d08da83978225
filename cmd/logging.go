package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/realtime-gateway/internal/config"
)

// setupLogging points the global zerolog logger at cfg.LogOutput.
// Format "auto" writes human-readable output to a terminal and JSON otherwise.
// The returned closer releases a log file, if one was opened.
func setupLogging(cfg config.MonitoringConfig, debug bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out, closer, err := openLogOutput(cfg.LogOutput)
	if err != nil {
		return nil, err
	}

	var w io.Writer = out
	if useConsoleFormat(cfg.LogFormat, out) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: !isTerminal(out)}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closer, nil
}

func openLogOutput(target string) (*os.File, io.Closer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func useConsoleFormat(format string, out *os.File) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	default:
		return isTerminal(out)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
