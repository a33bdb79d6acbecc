package api

import "github.com/vizcayal/aha-moment/internal/decode"

// GenerationRequest is the body of POST /v1/generations. Exactly one of
// Prompt or Tokens must be set; at most one length bound may be set.
type GenerationRequest struct {
	Prompt       *string `json:"prompt,omitempty"`
	Tokens       []int   `json:"tokens,omitempty"`
	Mask         []int   `json:"mask,omitempty"`
	MaxNewTokens *int    `json:"max_new_tokens,omitempty"`
	MaxLength    *int    `json:"max_length,omitempty"`
	Stream       *bool   `json:"stream,omitempty"`
}

type Generation struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	CreatedAt   int64             `json:"created_at"`
	CompletedAt *int64            `json:"completed_at,omitempty"`
	Status      string            `json:"status"`
	Bound       string            `json:"bound,omitempty"`
	Text        string            `json:"text"`
	Tokens      []int             `json:"tokens,omitempty"`
	Mask        []int             `json:"mask,omitempty"`
	PromptLen   int               `json:"prompt_len"`
	ToolCalls   []decode.ToolCall `json:"tool_calls"`
	StopReason  string            `json:"stop_reason,omitempty"`
	Usage       *GenerationUsage  `json:"usage,omitempty"`
	Error       *APIError         `json:"error,omitempty"`
}

type GenerationUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	PredictorCalls   int     `json:"predictor_calls"`
	ToolCalls        int     `json:"tool_calls"`
	DurationMS       int64   `json:"duration_ms"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type DeleteGenerationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

const (
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusIncomplete = "incomplete"
	statusFailed     = "failed"
)
