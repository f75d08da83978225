// Package realtime adapts one bidirectional connection to the upstream
// realtime API into a cost-governed session.
//
// DESIGN: The upstream is a stream of typed JSON events. Inbound events are
// demultiplexed by their "type" field with gjson (no full decode); outbound
// events are built from small templates with sjson. Only the fields the
// gateway reads or writes are modeled.
//
// FILES:
//   - protocol.go:  event type constants and the outbound codec
//   - transport.go: Conn/Dialer and the coder/websocket implementation
//   - audio.go:     PCM format and the optional audio capability
//   - event.go:     typed events delivered to the EventSink
//   - session.go:   the Session state machine
package realtime

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// UPSTREAM EVENT TYPES
// =============================================================================

// Outbound.
const (
	TypeSessionUpdate      = "session.update"
	TypeInputAudioAppend   = "input_audio_buffer.append"
	TypeConversationCreate = "conversation.item.create"
	TypeResponseCreate     = "response.create"
)

// Inbound.
const (
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeResponseAudioDelta      = "response.audio.delta"
	TypeResponseAudioTranscript = "response.audio_transcript.delta"
	TypeResponseTextDelta       = "response.text.delta"
	TypeResponseDone            = "response.done"
	TypeError                   = "error"
)

// =============================================================================
// SESSION CONFIGURATION
// =============================================================================

// SessionConfig is the configuration sent once in session.update right after
// the connection is established.
type SessionConfig struct {
	Modalities              []string `yaml:"modalities"`
	Instructions            string   `yaml:"instructions"`
	Voice                   string   `yaml:"voice"`
	InputAudioFormat        string   `yaml:"input_audio_format"`
	OutputAudioFormat       string   `yaml:"output_audio_format"`
	TranscriptionModel      string   `yaml:"transcription_model"`
	VADThreshold            float64  `yaml:"vad_threshold"`
	VADPrefixPaddingMs      int      `yaml:"vad_prefix_padding_ms"`
	VADSilenceDurationMs    int      `yaml:"vad_silence_duration_ms"`
	Temperature             float64  `yaml:"temperature"`
	MaxResponseOutputTokens string   `yaml:"max_response_output_tokens"` // number or "inf"
}

// DefaultSessionConfig returns the stock assistant configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            "You are Eva, a helpful AI assistant. Respond naturally and concisely.",
		Voice:                   "alloy",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		TranscriptionModel:      "whisper-1",
		VADThreshold:            0.5,
		VADPrefixPaddingMs:      300,
		VADSilenceDurationMs:    500,
		Temperature:             0.8,
		MaxResponseOutputTokens: "inf",
	}
}

// =============================================================================
// OUTBOUND CODEC
// =============================================================================

const (
	sessionUpdateTemplate = `{"type":"session.update","session":{"tools":[],"tool_choice":"none","turn_detection":{"type":"server_vad"}}}`
	textItemTemplate      = `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":""}]}}`
	audioAppendTemplate   = `{"type":"input_audio_buffer.append","audio":""}`
	responseCreate        = `{"type":"response.create"}`
)

// BuildSessionUpdate encodes cfg as a session.update event.
func BuildSessionUpdate(cfg SessionConfig) ([]byte, error) {
	msg := []byte(sessionUpdateTemplate)
	fields := []struct {
		path  string
		value any
	}{
		{"session.modalities", cfg.Modalities},
		{"session.instructions", cfg.Instructions},
		{"session.voice", cfg.Voice},
		{"session.input_audio_format", cfg.InputAudioFormat},
		{"session.output_audio_format", cfg.OutputAudioFormat},
		{"session.input_audio_transcription.model", cfg.TranscriptionModel},
		{"session.turn_detection.threshold", cfg.VADThreshold},
		{"session.turn_detection.prefix_padding_ms", cfg.VADPrefixPaddingMs},
		{"session.turn_detection.silence_duration_ms", cfg.VADSilenceDurationMs},
		{"session.temperature", cfg.Temperature},
	}

	var err error
	for _, f := range fields {
		if msg, err = sjson.SetBytes(msg, f.path, f.value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", f.path, err)
		}
	}

	// "inf" is a string on the wire; a count is a number.
	var tokens any = cfg.MaxResponseOutputTokens
	if n, convErr := strconv.Atoi(cfg.MaxResponseOutputTokens); convErr == nil {
		tokens = n
	}
	if cfg.MaxResponseOutputTokens != "" {
		if msg, err = sjson.SetBytes(msg, "session.max_response_output_tokens", tokens); err != nil {
			return nil, fmt.Errorf("failed to set max_response_output_tokens: %w", err)
		}
	}
	return msg, nil
}

// BuildTextItem encodes a user text message.
func BuildTextItem(text string) ([]byte, error) {
	return sjson.SetBytes([]byte(textItemTemplate), "item.content.0.text", text)
}

// BuildResponseCreate encodes a response.create event.
func BuildResponseCreate() []byte {
	return []byte(responseCreate)
}

// BuildAudioAppend encodes a chunk of PCM16 audio.
func BuildAudioAppend(pcm []byte) ([]byte, error) {
	return sjson.SetBytes([]byte(audioAppendTemplate), "audio", base64.StdEncoding.EncodeToString(pcm))
}

// =============================================================================
// INBOUND ACCESSORS
// =============================================================================

// EventType returns the "type" of an inbound event, or "" if data is not JSON.
func EventType(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	return gjson.GetBytes(data, "type").String()
}

// errorMessage extracts a readable message from an upstream error event.
func errorMessage(data []byte) string {
	if msg := gjson.GetBytes(data, "error.message").String(); msg != "" {
		return msg
	}
	if code := gjson.GetBytes(data, "error.code").String(); code != "" {
		return code
	}
	return "unknown upstream error"
}
