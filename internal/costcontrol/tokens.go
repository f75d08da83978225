package costcontrol

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// DefaultEncoding is the tokenizer of the gpt-4o model family.
const DefaultEncoding = "o200k_base"

// TokenCounter counts text tokens for metering.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter estimates 4 bytes per token. Non-empty text is at least one token.
type HeuristicCounter struct{}

// CountTokens implements TokenCounter.
func (HeuristicCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a tiktoken counter for encoding, or the heuristic
// counter when the encoding cannot be loaded (e.g. no network for the BPE file).
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		return HeuristicCounter{}
	}
	tc, err := NewTiktokenCounter(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("costcontrol: tokenizer unavailable, using byte heuristic")
		return HeuristicCounter{}
	}
	return tc
}
