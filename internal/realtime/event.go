package realtime

import (
	"time"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
)

// EventKind names an event delivered to the EventSink.
type EventKind string

const (
	EventSessionStarted   EventKind = "session_started"
	EventUserSpeech       EventKind = "user_speech"
	EventResponse         EventKind = "eva_response"
	EventResponseAudio    EventKind = "eva_response_audio"
	EventCostWarning      EventKind = "cost_warning"
	EventCostLimitReached EventKind = "cost_limit_reached"
	EventSessionEnded     EventKind = "session_ended"
	EventError            EventKind = "realtime_error"
)

// Response subtypes carried in Event.Type for EventResponse.
const (
	ResponseText       = "text"
	ResponseTranscript = "transcript"
	ResponseDone       = "done"
)

// EndReason says why a session left the Active state.
type EndReason string

const (
	EndClientRequest  EndReason = "client_request"
	EndLimitBreached  EndReason = "limit_breached"
	EndTransportError EndReason = "transport_error"
	EndRemoteClosed   EndReason = "remote_closed"
	EndUpstreamError  EndReason = "upstream_error"
)

// Event is one occurrence scoped to a session. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      EventKind `json:"event"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	Text     string   `json:"text,omitempty"`     // user_speech, eva_response
	Type     string   `json:"type,omitempty"`     // eva_response subtype
	Audio    []byte   `json:"audio,omitempty"`    // eva_response_audio (PCM16, base64 in JSON)
	Message  string   `json:"message,omitempty"`  // cost_warning, realtime_error
	Reason   string   `json:"reason,omitempty"`   // cost_limit_reached, session_ended
	Warnings []string `json:"warnings,omitempty"` // session_started

	Summary *costcontrol.SessionSummary `json:"summary,omitempty"` // session_ended
}

// EventSink receives a session's events in the order they occurred.
// Publish is called from one goroutine per session and should not block long.
type EventSink interface {
	Publish(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
