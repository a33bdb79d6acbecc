package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vizcayal/aha-moment/internal/decode"
	"github.com/vizcayal/aha-moment/internal/logger"
)

type EngineConfig struct {
	Codec     Codec
	Predictor decode.Predictor
	Tool      decode.MemoryTool
	Logger    logger.Logger
	// Closers are released by Close in order.
	Closers []io.Closer
}

// resetter is implemented by predictors that carry state across runs.
type resetter interface {
	Reset()
}

// EngineImpl turns prompts into completions by driving the decode controller.
// It is safe for concurrent use when its predictor and tool are; a resettable
// predictor is rewound at the start of every run, so callers serialise runs.
type EngineImpl struct {
	codec      Codec
	controller *decode.Controller
	reset      resetter
	log        logger.Logger
	closers    []io.Closer
}

func NewEngine(cfg EngineConfig) (*EngineImpl, error) {
	if cfg.Codec == nil {
		return nil, errors.New("codec is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	ctrl, err := decode.New(decode.Config{
		Predictor: cfg.Predictor,
		Codec:     cfg.Codec,
		Tool:      cfg.Tool,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	reset, _ := cfg.Predictor.(resetter)
	return &EngineImpl{
		codec:      cfg.Codec,
		reset:      reset,
		controller: ctrl,
		log:        log,
		closers:    cfg.Closers,
	}, nil
}

func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Generate runs one request. When ctx is cancelled mid-run the partial Result
// is returned together with the context error.
func (e *EngineImpl) Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens, mask := req.Tokens, req.Mask
	if tokens == nil {
		var err error
		tokens, mask, err = safePrompt(e.codec, req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("encode prompt: %w", err)
		}
	} else if mask == nil {
		mask = make([]int, len(tokens))
		for i := range mask {
			mask[i] = 1
		}
	}

	if req.EchoPrompt && stream != nil {
		if text, err := safeDecode(e.codec, tokens); err == nil && text != "" {
			stream(text)
		}
	}

	seen := len(tokens)
	hooks := decode.Hooks{}
	if stream != nil {
		hooks.OnAppend = func(all, _ []int, _ decode.Origin) {
			ids := e.visible(all[seen:])
			seen = len(all)
			if len(ids) == 0 {
				return
			}
			if text, err := safeDecode(e.codec, ids); err == nil && text != "" {
				stream(text)
			}
		}
	}

	if e.reset != nil {
		e.reset.Reset()
	}
	start := time.Now()
	res, err := e.controller.Run(ctx, decode.Request{
		Tokens: tokens,
		Mask:   mask,
		Bound:  req.Bound,
		Hooks:  hooks,
	})
	if res == nil {
		return nil, err
	}

	generated := res.Generated()
	text, decErr := safeDecode(e.codec, e.visible(generated))
	if decErr != nil {
		return nil, errors.Join(err, fmt.Errorf("decode completion: %w", decErr))
	}

	out := &Result{
		Text:      SanitizeCompletion(text),
		Tokens:    res.Tokens,
		Mask:      res.Mask,
		PromptLen: res.PromptLen,
		ToolCalls: res.ToolCalls,
		Stop:      res.Stop,
		Stats:     newStats(len(generated), res.PredictorCalls, len(res.ToolCalls), time.Since(start)),
	}
	e.log.Debug("generation finished",
		"stop", string(out.Stop),
		"tokens", out.Stats.TokensGenerated,
		"tool_calls", out.Stats.ToolCalls,
		"duration", out.Stats.Duration,
	)
	return out, err
}

// visible drops a trailing EOS id.
func (e *EngineImpl) visible(ids []int) []int {
	if n := len(ids); n > 0 && ids[n-1] == e.codec.EOSID() {
		return ids[:n-1]
	}
	return ids
}

func safePrompt(c Codec, prompt string) (tokens, mask []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return c.Prompt(prompt)
}

func safeDecode(c Codec, ids []int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return c.Decode(ids)
}
