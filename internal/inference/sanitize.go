package inference

import (
	"strings"

	"github.com/vizcayal/aha-moment/internal/tokenizer"
)

var sentinelTokens = []string{
	"<|im_end|>",
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|eot_id|>",
	"</s>",
	tokenizer.MemoryStartToken,
	tokenizer.MemoryEndToken,
}

// SanitizeCompletion removes reasoning blocks and sentinel artifacts from
// completion text. Extra strings are removed as well.
func SanitizeCompletion(text string, extra ...string) string {
	s := stripThinkBlocks(text)
	for _, token := range sentinelTokens {
		s = strings.ReplaceAll(s, token, "")
	}
	for _, token := range extra {
		if token != "" {
			s = strings.ReplaceAll(s, token, "")
		}
	}
	return strings.TrimSpace(s)
}

func stripThinkBlocks(text string) string {
	lower := strings.ToLower(text)
	const (
		openTag  = "<think>"
		closeTag = "</think>"
	)

	var b strings.Builder
	cursor := 0
	for cursor < len(text) {
		start := strings.Index(lower[cursor:], openTag)
		if start < 0 {
			b.WriteString(text[cursor:])
			break
		}
		start += cursor
		b.WriteString(text[cursor:start])

		body := start + len(openTag)
		end := strings.Index(lower[body:], closeTag)
		if end < 0 {
			break // unclosed block runs to the end
		}
		cursor = body + end + len(closeTag)
	}
	return b.String()
}
