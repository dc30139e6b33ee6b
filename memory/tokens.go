package memory

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for transcript chunking and ledger
// budget checks. Counts are heuristics used for sizing, not billing.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the cl100k_base BPE encoding, the
// closest shared approximation across the model families we talk to. The
// encoding is initialized lazily; when initialization fails (the BPE ranks
// could not be loaded) the counter degrades to EstimateTokens.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter backed by the cl100k_base encoding.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count returns the token count of text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens is the rough bytes/4 fallback used when no encoding is
// available.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
