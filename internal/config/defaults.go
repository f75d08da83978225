// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the gateway listen port.
const DefaultPort = 18090

// DefaultHost is the gateway listen host. Loopback unless configured otherwise.
const DefaultHost = "127.0.0.1"

// DefaultReadTimeout bounds reading an HTTP request.
const DefaultReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for plain HTTP responses. Event websockets are
// hijacked and not subject to it.
const DefaultServerWriteTimeout = 30 * time.Second

// DefaultShutdownTimeout bounds graceful shutdown, including session teardown.
const DefaultShutdownTimeout = 20 * time.Second

// MaxRequestBodySize is the maximum allowed JSON request body (1MB).
const MaxRequestBodySize = 1 << 20

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamURL is the realtime endpoint including the model.
const DefaultUpstreamURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

// DefaultBetaHeader is sent as OpenAI-Beta on the handshake.
const DefaultBetaHeader = "realtime=v1"

// DefaultHandshakeTimeout bounds dial plus session.update.
const DefaultHandshakeTimeout = 15 * time.Second

// DefaultDialRetries caps handshake retries inside the handshake timeout.
const DefaultDialRetries = 3

// =============================================================================
// SESSIONS
// =============================================================================

// DefaultCheckInterval is the periodic duration check of every session.
const DefaultCheckInterval = 5 * time.Second

// DefaultDurationWarningFraction is the elapsed fraction of the duration limit
// after which the periodic check announces the remaining seconds.
const DefaultDurationWarningFraction = 0.9

// DefaultPendingTTL is how long an issued session id may wait to be started.
const DefaultPendingTTL = 5 * time.Minute

// DefaultFinalizeTimeout bounds the ledger write when a session ends.
const DefaultFinalizeTimeout = 10 * time.Second

// DefaultEventBuffer is the per-session event queue length.
const DefaultEventBuffer = 256

// DefaultEstimatedCostPerMinute is shown to users before they confirm.
const DefaultEstimatedCostPerMinute = 0.30

// =============================================================================
// STORAGE
// =============================================================================

// DefaultStorageURL keeps ledgers as JSON files under the working directory.
const DefaultStorageURL = "file://data/realtime_costs"

// =============================================================================
// MONITORING
// =============================================================================

// DefaultLogLevel is the zerolog level name.
const DefaultLogLevel = "info"

// DefaultLogFormat picks console output on a terminal and JSON otherwise.
const DefaultLogFormat = "auto"

// DefaultTelemetryPath is where session telemetry goes when enabled.
const DefaultTelemetryPath = "logs/sessions.jsonl"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// DefaultTokenEncoding is the tiktoken encoding used to meter text.
const DefaultTokenEncoding = "o200k_base"
