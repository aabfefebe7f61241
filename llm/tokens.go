package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text with the cl100k encoding.
// It falls back to a length-based estimate when the encoding is unavailable.
func CountTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.EncodingForModel("gpt-4")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
