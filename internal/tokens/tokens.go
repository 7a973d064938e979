// Package tokens estimates how many model tokens a piece of text costs.
package tokens

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, falling back to character estimate")
			return
		}
		codec = c
	})
	return codec
}

// Count returns the cl100k token count of text. If the encoder cannot be
// loaded it falls back to one token per four characters.
func Count(text string) int {
	if text == "" {
		return 0
	}
	c := getCodec()
	if c == nil {
		return Estimate(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(ids)
}

// Estimate is the character-based approximation used when no encoder is available.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

// Budget accumulates counts up to a limit.
type Budget struct {
	Limit int
	Used  int
}

// Take adds n to the budget if it fits and reports whether it did.
// A zero or negative Limit accepts everything.
func (b *Budget) Take(n int) bool {
	if b.Limit > 0 && b.Used+n > b.Limit {
		return false
	}
	b.Used += n
	return true
}
