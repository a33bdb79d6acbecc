package inference

import (
	"fmt"

	"github.com/vizcayal/aha-moment/internal/decode"
)

// DefaultMaxNewTokens applies when neither the request nor the defaults
// carry a length bound.
const DefaultMaxNewTokens = 100

type RequestOptions struct {
	Prompt string
	Tokens []int
	Mask   []int

	MaxNewTokens *int
	MaxLength    *int

	EchoPrompt *bool
}

// GenDefaults are configured fallbacks for unset request options.
type GenDefaults struct {
	MaxNewTokens *int
	MaxLength    *int
}

// ResolveRequest fills a Request from options, falling back to defaults for
// the length bound. Setting both bounds at the same level is an error.
func ResolveRequest(opts RequestOptions, defaults GenDefaults) (Request, error) {
	req := Request{
		Prompt: opts.Prompt,
		Tokens: opts.Tokens,
		Mask:   opts.Mask,
	}
	if opts.EchoPrompt != nil {
		req.EchoPrompt = *opts.EchoPrompt
	}

	bound, err := decode.ResolveBound(opts.MaxNewTokens, opts.MaxLength)
	if err != nil {
		return Request{}, err
	}
	if !bound.IsSet() {
		bound, err = decode.ResolveBound(defaults.MaxNewTokens, defaults.MaxLength)
		if err != nil {
			return Request{}, fmt.Errorf("defaults: %w", err)
		}
	}
	if !bound.IsSet() {
		bound = decode.MaxNewTokens(DefaultMaxNewTokens)
	}
	req.Bound = bound
	return req, nil
}
