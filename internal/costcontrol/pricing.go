package costcontrol

import "fmt"

// AudioPricing holds per-minute audio rates in US cents.
type AudioPricing struct {
	InputCentsPerMinute  float64 `yaml:"audio_input_cents_per_minute" json:"audio_input_cents_per_minute"`
	OutputCentsPerMinute float64 `yaml:"audio_output_cents_per_minute" json:"audio_output_cents_per_minute"`
}

// TextPricing holds per-million-token text rates in USD.
type TextPricing struct {
	InputPerMTok  float64 `yaml:"text_input_per_mtok" json:"text_input_per_mtok"`
	OutputPerMTok float64 `yaml:"text_output_per_mtok" json:"text_output_per_mtok"`
}

// Pricing bundles the audio and text rates of the upstream model.
type Pricing struct {
	Audio AudioPricing `yaml:",inline" json:"audio"`
	Text  TextPricing  `yaml:",inline" json:"text"`
}

// DefaultPricing returns the published realtime-preview rates.
func DefaultPricing() Pricing {
	return Pricing{
		Audio: AudioPricing{InputCentsPerMinute: 6, OutputCentsPerMinute: 24},
		Text:  TextPricing{InputPerMTok: 5, OutputPerMTok: 20},
	}
}

// Validate rejects negative rates.
func (p Pricing) Validate() error {
	if p.Audio.InputCentsPerMinute < 0 || p.Audio.OutputCentsPerMinute < 0 {
		return fmt.Errorf("pricing: audio rates must be >= 0")
	}
	if p.Text.InputPerMTok < 0 || p.Text.OutputPerMTok < 0 {
		return fmt.Errorf("pricing: text rates must be >= 0")
	}
	return nil
}

// CalculateAudioCost returns the USD cost of seconds of audio in direction.
// Anything that is not input is billed at the output rate.
func CalculateAudioCost(seconds float64, dir Direction, pricing AudioPricing) float64 {
	if seconds <= 0 {
		return 0
	}
	rate := pricing.OutputCentsPerMinute
	if dir == DirectionInput {
		rate = pricing.InputCentsPerMinute
	}
	return seconds / 60 * rate / 100
}

// CalculateTextCost returns the USD cost of tokens of text in direction.
func CalculateTextCost(tokens int, dir Direction, pricing TextPricing) float64 {
	if tokens <= 0 {
		return 0
	}
	rate := pricing.OutputPerMTok
	if dir == DirectionInput {
		rate = pricing.InputPerMTok
	}
	return float64(tokens) / 1_000_000 * rate
}
