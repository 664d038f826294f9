package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func initEncoding() {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// CountTokens estimates the token footprint of a prompt. cl100k_base is close
// enough for budget logging across both providers; when the encoding is
// unavailable a rune heuristic is used.
func CountTokens(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

// estimateFast returns max(runes/4, word count).
func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	byRunes := len([]rune(trimmed)) / 4
	byWords := len(strings.Fields(trimmed))
	if byWords > byRunes {
		return byWords
	}
	return byRunes
}
