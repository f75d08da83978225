package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/compresr/realtime-gateway/internal/monitoring"
)

var (
	// ErrConnectionFailed wraps handshake and session setup failures.
	ErrConnectionFailed = errors.New("upstream connection failed")

	// ErrNotConnected is returned for outbound actions on a session that is not Active.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionClosed is returned when connecting or disconnecting a session
	// that has already ended (or is ending).
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes a Session.
type Config struct {
	Session          SessionConfig
	HandshakeTimeout time.Duration // dial + session.update
	CheckInterval    time.Duration // periodic limit check; 0 disables
	FinalizeTimeout  time.Duration // ledger write on teardown
	EventBuffer      int
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		Session:          DefaultSessionConfig(),
		HandshakeTimeout: 15 * time.Second,
		CheckInterval:    5 * time.Second,
		FinalizeTimeout:  10 * time.Second,
		EventBuffer:      256,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithAudio sets the audio capability. Unavailable devices are replaced by NoAudio.
func WithAudio(dev AudioDevice) Option {
	return func(s *Session) { s.audio = ProbeAudio(dev) }
}

// WithTokenCounter sets the text token counter.
func WithTokenCounter(c costcontrol.TokenCounter) Option {
	return func(s *Session) {
		if c != nil {
			s.tokens = c
		}
	}
}

// WithMetrics records session metrics into mc.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(s *Session) { s.metrics = mc }
}

// WithClock overrides the clock used to time speech.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session is one cost-governed connection to the upstream.
//
// State machine: Idle -> Connecting -> Active -> Ending -> Closed, with
// Connecting -> Closed on denial, handshake failure or an end requested
// while connecting, and Idle -> Closed when ended before Connect. Exactly one caller
// wins the Active -> Ending transition and performs teardown, so the tracker
// finalizes the session once no matter how many paths race to end it.
//
// Events reach the sink from a single dispatcher goroutine in the order they
// were emitted. Teardown never waits for the receive loop or the periodic
// check; it cancels them.
type Session struct {
	id      string
	cfg     Config
	tracker *costcontrol.Tracker
	dialer  Dialer
	sink    EventSink
	audio   AudioDevice
	tokens  costcontrol.TokenCounter
	metrics *monitoring.MetricsCollector
	now     func() time.Time
	log     zerolog.Logger

	state    atomic.Int32
	breached atomic.Bool

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	handshakeCancel context.CancelFunc
	stopRequested   bool
	conn            Conn
	capture         AudioCapture
	speechStart     time.Time
	upstreamID      string
	admission       costcontrol.AdmissionResult
	summary         costcontrol.SessionSummary
	endReason       EndReason

	emitMu       sync.RWMutex
	eventsClosed bool
	events       chan Event
	done         chan struct{}
}

// NewSession creates an Idle session. Nothing runs until Connect.
func NewSession(id string, tracker *costcontrol.Tracker, dialer Dialer, sink EventSink, cfg Config, opts ...Option) *Session {
	if sink == nil {
		sink = discardSink{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultConfig().FinalizeTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	s := &Session{
		id:      id,
		cfg:     cfg,
		tracker: tracker,
		dialer:  dialer,
		sink:    sink,
		audio:   NoAudio{},
		tokens:  costcontrol.HeuristicCounter{},
		now:     time.Now,
		log:     log.With().Str("component", "realtime").Str("session_id", id).Logger(),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is Closed and every event has been
// handed to the sink. This includes a failed or withdrawn Connect; it stays
// open only while the session is Idle, Connecting or live.
func (s *Session) Done() <-chan struct{} { return s.done }

// UpstreamID returns the upstream's own session id, once known.
func (s *Session) UpstreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamID
}

// EndReason returns why the session ended; empty while it is live.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Summary returns the final accounting. ok is false until the session is Closed.
func (s *Session) Summary() (summary costcontrol.SessionSummary, ok bool) {
	if s.State() != StateClosed {
		return costcontrol.SessionSummary{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, true
}

// Admission returns the admission result Connect obtained.
func (s *Session) Admission() costcontrol.AdmissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admission
}

// AudioAvailable reports whether audio capture can be started.
func (s *Session) AudioAvailable() bool { return s.audio.Available() }

// =============================================================================
// CONNECT
// =============================================================================

// Connect admits the session through the tracker, dials the upstream and
// sends the session configuration. On success the session is Active and its
// receive loop and periodic check are running. On failure the session is
// Closed and any admission reservation has been released. A Disconnect that
// arrives while Connect is in flight cancels the handshake and makes Connect
// return ErrSessionClosed.
func (s *Session) Connect(ctx context.Context) (costcontrol.AdmissionResult, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return costcontrol.AdmissionResult{}, fmt.Errorf("%w: connect in state %s", ErrSessionClosed, s.State())
	}
	go s.dispatch()

	admission, err := s.tracker.StartSession(ctx, s.id)
	if err != nil {
		s.abort(err, false)
		return admission, err
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	s.mu.Lock()
	s.handshakeCancel = cancel
	stopped := s.stopRequested
	s.mu.Unlock()
	if stopped {
		return admission, s.withdraw()
	}

	conn, err := s.dialer.Dial(hctx)
	if err != nil {
		return admission, s.failConnect(err)
	}

	update, err := BuildSessionUpdate(s.cfg.Session)
	if err == nil {
		err = conn.Write(hctx, update)
	}
	if err != nil {
		_ = conn.Close("session setup failed")
		return admission, s.failConnect(fmt.Errorf("session setup: %v", err))
	}

	sctx, scancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		scancel()
		_ = conn.Close(string(EndClientRequest))
		return admission, s.withdraw()
	}
	s.ctx = sctx
	s.cancel = scancel
	s.conn = conn
	s.admission = admission
	s.handshakeCancel = nil
	s.state.Store(int32(StateActive))
	s.mu.Unlock()

	s.metrics.RecordStarted()
	s.log.Info().Bool("audio", s.audio.Available()).Msg("realtime: session active")
	s.emit(Event{Kind: EventSessionStarted, Warnings: admission.Warnings})

	go s.receiveLoop(sctx, conn)
	go s.monitor(sctx)
	return admission, nil
}

// failConnect closes a Connecting session after a dial or setup error.
func (s *Session) failConnect(cause error) error {
	if s.stopPending() {
		return s.withdraw()
	}
	s.metrics.RecordConnectFailure()
	err := fmt.Errorf("%w: %v", ErrConnectionFailed, cause)
	s.abort(err, true)
	return err
}

// abort moves a Connecting session straight to Closed.
func (s *Session) abort(cause error, reserved bool) {
	if reserved {
		s.release()
	}
	s.log.Warn().Err(cause).Msg("realtime: connect failed")
	s.emit(Event{Kind: EventError, Message: cause.Error()})
	s.state.Store(int32(StateClosed))
	s.closeEvents()
}

// withdraw closes a Connecting session whose end was requested before it
// became Active. No ledger record is written.
func (s *Session) withdraw() error {
	s.release()
	s.mu.Lock()
	s.endReason = EndClientRequest
	s.handshakeCancel = nil
	s.mu.Unlock()

	s.log.Info().Msg("realtime: session ended while connecting")
	s.state.Store(int32(StateClosed))
	s.emit(Event{Kind: EventSessionEnded, Reason: string(EndClientRequest)})
	s.closeEvents()
	return fmt.Errorf("%w: ended while connecting", ErrSessionClosed)
}

func (s *Session) release() {
	if err := s.tracker.CancelSession(s.id); err != nil {
		s.log.Warn().Err(err).Msg("realtime: failed to release reservation")
	}
}

func (s *Session) stopPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// =============================================================================
// RECEIVE
// =============================================================================

func (s *Session) receiveLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := EndTransportError
			if errors.Is(err, ErrRemoteClosed) {
				reason = EndRemoteClosed
				s.log.Info().Err(err).Msg("realtime: upstream closed connection")
			} else {
				s.metrics.RecordUpstreamError()
				s.log.Error().Err(err).Msg("realtime: read failed")
				s.emit(Event{Kind: EventError, Message: err.Error()})
			}
			s.shutdown(context.Background(), reason)
			return
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	switch typ := EventType(data); typ {
	case TypeSessionCreated:
		upstreamID := gjson.GetBytes(data, "session.id").String()
		s.mu.Lock()
		s.upstreamID = upstreamID
		s.mu.Unlock()
		s.log.Info().Str("upstream_session_id", upstreamID).Msg("realtime: upstream session created")

	case TypeSpeechStarted:
		s.mu.Lock()
		s.speechStart = s.now()
		s.mu.Unlock()

	case TypeSpeechStopped:
		s.mu.Lock()
		start := s.speechStart
		s.speechStart = time.Time{}
		s.mu.Unlock()
		if !start.IsZero() {
			s.trackAudio(costcontrol.DirectionInput, s.now().Sub(start).Seconds())
		}

	case TypeTranscriptionCompleted:
		if transcript := gjson.GetBytes(data, "transcript").String(); transcript != "" {
			s.emit(Event{Kind: EventUserSpeech, Text: transcript})
		}

	case TypeResponseAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(gjson.GetBytes(data, "delta").String())
		if err != nil {
			s.log.Warn().Err(err).Msg("realtime: undecodable audio delta")
			return
		}
		if s.audio.Available() {
			if err := s.audio.Play(pcm); err != nil {
				s.log.Debug().Err(err).Msg("realtime: playback failed")
			}
		}
		s.emit(Event{Kind: EventResponseAudio, Audio: pcm})
		s.trackAudio(costcontrol.DirectionOutput, PCMDuration(len(pcm)))

	case TypeResponseAudioTranscript:
		if delta := gjson.GetBytes(data, "delta").String(); delta != "" {
			s.emit(Event{Kind: EventResponse, Text: delta, Type: ResponseTranscript})
		}

	case TypeResponseTextDelta:
		delta := gjson.GetBytes(data, "delta").String()
		if delta == "" {
			return
		}
		s.emit(Event{Kind: EventResponse, Text: delta, Type: ResponseText})
		s.trackText(costcontrol.DirectionOutput, s.tokens.CountTokens(delta))

	case TypeResponseDone:
		s.emit(Event{Kind: EventResponse, Type: ResponseDone})

	case TypeError:
		msg := errorMessage(data)
		s.metrics.RecordUpstreamError()
		s.log.Error().Str("error", msg).Msg("realtime: upstream error")
		s.emit(Event{Kind: EventError, Message: msg})
		s.shutdown(context.Background(), EndUpstreamError)

	case TypeSessionUpdated:

	default:
		s.log.Debug().Str("type", typ).Msg("realtime: unhandled event")
	}
}

// =============================================================================
// METERING
// =============================================================================

func (s *Session) trackAudio(dir costcontrol.Direction, seconds float64) {
	if seconds <= 0 {
		return
	}
	result, err := s.tracker.TrackUsage(s.id, dir, seconds)
	if err != nil {
		// Already finalized by a concurrent teardown.
		return
	}
	s.metrics.RecordAudio(dir == costcontrol.DirectionInput, seconds)
	s.apply(result)
}

func (s *Session) trackText(dir costcontrol.Direction, tokens int) {
	if tokens <= 0 {
		return
	}
	result, err := s.tracker.TrackText(s.id, dir, tokens)
	if err != nil {
		return
	}
	s.metrics.RecordText(dir == costcontrol.DirectionInput, tokens)
	s.apply(result)
}

// apply forwards warnings and enforces termination.
func (s *Session) apply(result costcontrol.UsageResult) {
	for _, w := range result.Warnings {
		s.emit(Event{Kind: EventCostWarning, Message: w})
	}
	if result.ShouldTerminate {
		s.breach(result.Reason)
	}
}

func (s *Session) breach(reason string) {
	if s.State() != StateActive || !s.breached.CompareAndSwap(false, true) {
		return
	}
	s.log.Warn().Str("reason", reason).Msg("realtime: limit breached, terminating")
	s.emit(Event{
		Kind:    EventCostLimitReached,
		Reason:  reason,
		Message: fmt.Sprintf("%v: %s", costcontrol.ErrLimitBreached, reason),
	})
	s.shutdown(context.Background(), EndLimitBreached)
}

// monitor runs the periodic check so idle sessions still hit the duration limit.
func (s *Session) monitor(ctx context.Context) {
	if s.cfg.CheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.tracker.CheckSession(s.id)
			if err != nil {
				return
			}
			s.apply(result)
		}
	}
}

// =============================================================================
// OUTBOUND
// =============================================================================

func (s *Session) activeConn() (Conn, error) {
	if s.State() != StateActive {
		return nil, ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// SendText sends a user message and asks for a response. Input tokens are metered.
func (s *Session) SendText(ctx context.Context, text string) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}

	item, err := BuildTextItem(text)
	if err != nil {
		return fmt.Errorf("failed to encode text: %w", err)
	}
	if err := conn.Write(ctx, item); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	if err := conn.Write(ctx, BuildResponseCreate()); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}

	s.trackText(costcontrol.DirectionInput, s.tokens.CountTokens(text))
	return nil
}

// StartAudioCapture streams captured audio upstream until StopAudioCapture or
// teardown. Without an audio device it returns ErrCapabilityUnavailable and
// the session continues text-only.
func (s *Session) StartAudioCapture() error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	if !s.audio.Available() {
		s.log.Info().Msg("realtime: audio capture unavailable, text-only")
		return fmt.Errorf("%w: audio capture", ErrCapabilityUnavailable)
	}

	s.mu.Lock()
	if s.capture != nil {
		s.mu.Unlock()
		return nil
	}
	ctx := s.ctx
	capture, err := s.audio.OpenCapture(ctx)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("realtime: failed to open audio capture")
		return fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	s.capture = capture
	s.mu.Unlock()

	go s.captureLoop(ctx, conn, capture)
	s.log.Info().Msg("realtime: audio capture started")
	return nil
}

// StopAudioCapture stops a running capture. It is a no-op when none is running.
func (s *Session) StopAudioCapture() error {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()

	if capture == nil {
		return nil
	}
	s.log.Info().Msg("realtime: audio capture stopped")
	return capture.Close()
}

func (s *Session) captureLoop(ctx context.Context, conn Conn, capture AudioCapture) {
	for {
		pcm, err := capture.Read(ctx)
		if err != nil {
			return
		}
		msg, err := BuildAudioAppend(pcm)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, msg); err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("realtime: failed to send audio")
			}
			return
		}
	}
}

// =============================================================================
// TEARDOWN
// =============================================================================

// Disconnect ends the session and returns its final accounting.
//
// An Idle session is closed so a later Connect fails. A Connecting session
// has its handshake cancelled; Disconnect waits for Connect to give up and
// returns an empty summary, since nothing was metered. Calling it on a
// session that is already ending or closed returns ErrSessionClosed without
// side effects.
func (s *Session) Disconnect(ctx context.Context) (costcontrol.SessionSummary, error) {
	s.mu.Lock()
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		s.endReason = EndClientRequest
		s.mu.Unlock()
		s.emit(Event{Kind: EventSessionEnded, Reason: string(EndClientRequest)})
		s.closeEvents()
		go s.dispatch()
		return costcontrol.SessionSummary{}, nil
	}
	if s.State() == StateConnecting {
		first := !s.stopRequested
		s.stopRequested = true
		cancel := s.handshakeCancel
		s.mu.Unlock()
		if !first {
			return costcontrol.SessionSummary{}, ErrSessionClosed
		}
		if cancel != nil {
			cancel()
		}
		select {
		case <-s.done:
		case <-ctx.Done():
			return costcontrol.SessionSummary{}, ctx.Err()
		}
		summary, _ := s.Summary()
		return summary, nil
	}
	s.mu.Unlock()

	if !s.shutdown(ctx, EndClientRequest) {
		return costcontrol.SessionSummary{}, ErrSessionClosed
	}
	summary, _ := s.Summary()
	return summary, nil
}

// shutdown performs teardown once; it reports whether this call did it.
func (s *Session) shutdown(ctx context.Context, reason EndReason) bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateEnding)) {
		return false
	}

	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	capture := s.capture
	s.conn = nil
	s.capture = nil
	s.endReason = reason
	s.mu.Unlock()

	cancel()
	if capture != nil {
		_ = capture.Close()
	}
	if conn != nil {
		if err := conn.Close(string(reason)); err != nil {
			s.log.Debug().Err(err).Msg("realtime: close after teardown")
		}
	}

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
	defer fcancel()
	summary, err := s.tracker.EndSession(fctx, s.id)
	if err != nil {
		s.log.Error().Err(err).Msg("realtime: failed to finalize session")
	}

	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))

	s.metrics.RecordEnded(reason == EndLimitBreached)
	s.log.Info().Str("reason", string(reason)).Float64("cost", summary.Record.Cost).Msg("realtime: session ended")
	s.emit(Event{Kind: EventSessionEnded, Reason: string(reason), Summary: &summary})
	s.closeEvents()
	return true
}

// =============================================================================
// EVENT DISPATCH
// =============================================================================

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}

	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsClosed {
		return
	}
	s.events <- ev
}

func (s *Session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

func (s *Session) dispatch() {
	defer close(s.done)
	for ev := range s.events {
		s.sink.Publish(ev)
	}
}
