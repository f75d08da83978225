package realtime_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/realtime-gateway/internal/realtime"
)

func TestBuildSessionUpdate_Defaults(t *testing.T) {
	msg, err := realtime.BuildSessionUpdate(realtime.DefaultSessionConfig())
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(msg))

	assert.Equal(t, "session.update", realtime.EventType(msg))
	assert.Equal(t, `["text","audio"]`, gjson.GetBytes(msg, "session.modalities").Raw)
	assert.Equal(t, "alloy", gjson.GetBytes(msg, "session.voice").String())
	assert.Equal(t, "pcm16", gjson.GetBytes(msg, "session.input_audio_format").String())
	assert.Equal(t, "whisper-1", gjson.GetBytes(msg, "session.input_audio_transcription.model").String())
	assert.Equal(t, "server_vad", gjson.GetBytes(msg, "session.turn_detection.type").String())
	assert.InDelta(t, 0.5, gjson.GetBytes(msg, "session.turn_detection.threshold").Float(), 1e-9)
	assert.Equal(t, int64(500), gjson.GetBytes(msg, "session.turn_detection.silence_duration_ms").Int())
	assert.Equal(t, "none", gjson.GetBytes(msg, "session.tool_choice").String())

	tokens := gjson.GetBytes(msg, "session.max_response_output_tokens")
	assert.Equal(t, gjson.String, tokens.Type)
	assert.Equal(t, "inf", tokens.String())
}

func TestBuildSessionUpdate_NumericTokenCap(t *testing.T) {
	cfg := realtime.DefaultSessionConfig()
	cfg.MaxResponseOutputTokens = "4096"

	msg, err := realtime.BuildSessionUpdate(cfg)
	require.NoError(t, err)
	tokens := gjson.GetBytes(msg, "session.max_response_output_tokens")
	assert.Equal(t, gjson.Number, tokens.Type)
	assert.Equal(t, int64(4096), tokens.Int())

	cfg.MaxResponseOutputTokens = ""
	msg, err = realtime.BuildSessionUpdate(cfg)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(msg, "session.max_response_output_tokens").Exists())
}

func TestBuildTextItem(t *testing.T) {
	msg, err := realtime.BuildTextItem(`say "hi"`)
	require.NoError(t, err)
	assert.Equal(t, "conversation.item.create", realtime.EventType(msg))
	assert.Equal(t, "user", gjson.GetBytes(msg, "item.role").String())
	assert.Equal(t, "input_text", gjson.GetBytes(msg, "item.content.0.type").String())
	assert.Equal(t, `say "hi"`, gjson.GetBytes(msg, "item.content.0.text").String())
}

func TestBuildAudioAppend(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	msg, err := realtime.BuildAudioAppend(pcm)
	require.NoError(t, err)
	assert.Equal(t, "input_audio_buffer.append", realtime.EventType(msg))

	decoded, err := base64.StdEncoding.DecodeString(gjson.GetBytes(msg, "audio").String())
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)

	assert.Equal(t, "response.create", realtime.EventType(realtime.BuildResponseCreate()))
}

func TestEventType(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"typed", `{"type":"response.done","response":{}}`, "response.done"},
		{"untyped", `{"foo":1}`, ""},
		{"not json", `response.done`, ""},
		{"truncated", `{"type":"error"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, realtime.EventType([]byte(tt.data)))
		})
	}
}

func TestPCMDuration(t *testing.T) {
	assert.Zero(t, realtime.PCMDuration(0))
	assert.Zero(t, realtime.PCMDuration(-5))
	assert.InDelta(t, 1.0, realtime.PCMDuration(48000), 1e-9)
	assert.InDelta(t, 0.5, realtime.PCMDuration(24000), 1e-9)
}

func TestProbeAudio(t *testing.T) {
	assert.False(t, realtime.ProbeAudio(nil).Available())
	assert.False(t, realtime.ProbeAudio(realtime.NoAudio{}).Available())

	pipe := realtime.NewPipeAudio(0)
	assert.Same(t, pipe, realtime.ProbeAudio(pipe))
}
