package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vizcayal/aha-moment/internal/decode"
	"github.com/vizcayal/aha-moment/internal/inference"
)

type StreamWriter interface {
	Begin(gen Generation) error
	EmitToken(delta string) error
	Complete(gen Generation) error
	Failed(gen Generation, err error) error
	Incomplete(gen Generation, err error) error
}

// GenerationService runs generation requests against one engine. Requests
// are served one at a time because predictors may hold per-run state.
type GenerationService struct {
	mu       sync.Mutex
	engine   inference.Engine
	defaults inference.GenDefaults
	clock    func() time.Time
}

func NewGenerationService(engine inference.Engine, defaults inference.GenDefaults) *GenerationService {
	return &GenerationService{
		engine:   engine,
		defaults: defaults,
		clock:    time.Now,
	}
}

// Create validates and runs req. The returned Generation is non-nil once the
// request has been accepted, even when the run fails.
func (s *GenerationService) Create(ctx context.Context, req *GenerationRequest, stream StreamWriter) (*Generation, error) {
	genReq, err := toInferenceRequest(req, s.defaults)
	if err != nil {
		return nil, err
	}

	gen := Generation{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: s.clock().Unix(),
		Status:    statusInProgress,
		Bound:     genReq.Bound.String(),
		ToolCalls: []decode.ToolCall{},
	}
	if stream != nil {
		if err := stream.Begin(gen); err != nil {
			return &gen, err
		}
	}

	s.mu.Lock()
	result, err := s.engine.Generate(ctx, &genReq, func(tok string) {
		if stream != nil {
			_ = stream.EmitToken(tok)
		}
	})
	s.mu.Unlock()

	if result != nil {
		s.fill(&gen, result)
	}
	switch {
	case err == nil:
		gen.Status = statusCompleted
		if stream != nil {
			if err := stream.Complete(gen); err != nil {
				return &gen, err
			}
		}
		return &gen, nil
	case result != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		gen.Status = statusIncomplete
		gen.Error = &APIError{Message: err.Error(), Type: "cancelled"}
		if stream != nil {
			_ = stream.Incomplete(gen, err)
		}
		return &gen, err
	case isClientError(err):
		if stream != nil {
			gen.Error = &APIError{Message: err.Error(), Type: "invalid_request_error"}
			_ = stream.Failed(gen, err)
		}
		return nil, err
	default:
		gen.Status = statusFailed
		gen.Error = &APIError{Message: err.Error(), Type: "server_error"}
		if stream != nil {
			_ = stream.Failed(gen, err)
		}
		return &gen, err
	}
}

func (s *GenerationService) fill(gen *Generation, result *inference.Result) {
	now := s.clock().Unix()
	gen.CompletedAt = &now
	gen.Text = result.Text
	gen.Tokens = result.Tokens
	gen.Mask = result.Mask
	gen.PromptLen = result.PromptLen
	if result.ToolCalls != nil {
		gen.ToolCalls = result.ToolCalls
	}
	gen.StopReason = string(result.Stop)
	gen.Usage = &GenerationUsage{
		PromptTokens:     result.PromptLen,
		CompletionTokens: result.Stats.TokensGenerated,
		PredictorCalls:   result.Stats.PredictorCalls,
		ToolCalls:        result.Stats.ToolCalls,
		DurationMS:       result.Stats.Duration.Milliseconds(),
		TokensPerSecond:  result.Stats.TPS,
	}
}

func toInferenceRequest(req *GenerationRequest, defaults inference.GenDefaults) (inference.Request, error) {
	if req == nil {
		return inference.Request{}, newInvalidRequest("request body is required")
	}
	hasPrompt := req.Prompt != nil
	hasTokens := req.Tokens != nil
	switch {
	case hasPrompt && hasTokens:
		return inference.Request{}, newInvalidRequest("prompt and tokens are mutually exclusive")
	case !hasPrompt && !hasTokens:
		return inference.Request{}, newInvalidRequest("one of prompt or tokens is required")
	case !hasTokens && req.Mask != nil:
		return inference.Request{}, newInvalidRequest("mask requires tokens")
	}

	opts := inference.RequestOptions{
		Tokens:       req.Tokens,
		Mask:         req.Mask,
		MaxNewTokens: req.MaxNewTokens,
		MaxLength:    req.MaxLength,
	}
	if hasPrompt {
		opts.Prompt = *req.Prompt
	}
	return inference.ResolveRequest(opts, defaults)
}
