package costcontrol_test

import (
	"testing"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/stretchr/testify/assert"
)

func TestCalculateAudioCost(t *testing.T) {
	pricing := costcontrol.DefaultPricing().Audio

	tests := []struct {
		name    string
		seconds float64
		dir     costcontrol.Direction
		want    float64
	}{
		{"one minute input", 60, costcontrol.DirectionInput, 0.06},
		{"one minute output", 60, costcontrol.DirectionOutput, 0.24},
		{"five minutes output", 300, costcontrol.DirectionOutput, 1.20},
		{"half second input", 0.5, costcontrol.DirectionInput, 0.0005},
		{"unknown direction bills as output", 60, costcontrol.Direction("playback"), 0.24},
		{"zero", 0, costcontrol.DirectionOutput, 0},
		{"negative", -10, costcontrol.DirectionOutput, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, costcontrol.CalculateAudioCost(tt.seconds, tt.dir, pricing), 1e-12)
		})
	}
}

func TestCalculateTextCost(t *testing.T) {
	pricing := costcontrol.DefaultPricing().Text

	assert.InDelta(t, 5.0, costcontrol.CalculateTextCost(1_000_000, costcontrol.DirectionInput, pricing), 1e-12)
	assert.InDelta(t, 0.02, costcontrol.CalculateTextCost(1_000, costcontrol.DirectionOutput, pricing), 1e-12)
	assert.Zero(t, costcontrol.CalculateTextCost(0, costcontrol.DirectionOutput, pricing))
}

func TestPricing_Validate(t *testing.T) {
	p := costcontrol.DefaultPricing()
	assert.NoError(t, p.Validate())

	p.Audio.OutputCentsPerMinute = -1
	assert.Error(t, p.Validate())
}

func TestHeuristicCounter(t *testing.T) {
	c := costcontrol.HeuristicCounter{}
	assert.Zero(t, c.CountTokens(""))
	assert.Equal(t, 1, c.CountTokens("hi"))
	assert.Equal(t, 4, c.CountTokens("sixteen chars!!!"))
}

func TestNewTokenCounter_EmptyEncodingUsesHeuristic(t *testing.T) {
	assert.IsType(t, costcontrol.HeuristicCounter{}, costcontrol.NewTokenCounter(""))
}
