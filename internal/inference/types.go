package inference

import (
	"context"

	"github.com/vizcayal/aha-moment/internal/decode"
)

// StreamFunc receives decoded text as it is appended to the sequence,
// including text spliced in from memory tool results.
type StreamFunc func(token string)

type Engine interface {
	Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error)
	Close() error
}

// Codec is the tokenizer surface the engine needs on top of decoding.
type Codec interface {
	decode.Codec
	Prompt(text string) (tokens, mask []int, err error)
}

type Request struct {
	// Prompt is encoded when Tokens is nil.
	Prompt string
	Tokens []int
	// Mask defaults to all ones when Tokens is set and Mask is nil.
	Mask []int

	Bound      decode.Bound
	EchoPrompt bool
}

type Result struct {
	Text      string
	Tokens    []int
	Mask      []int
	PromptLen int
	ToolCalls []decode.ToolCall
	Stop      decode.StopReason
	Stats     Stats
}
