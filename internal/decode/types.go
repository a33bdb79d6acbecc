package decode

import "context"

// MaxQueryTokens caps the number of ids collected for one memory query.
const MaxQueryTokens = 100

// Predictor scores the next position of a token sequence. Implementations
// must not retain or mutate the slices they are given.
type Predictor interface {
	Predict(ctx context.Context, tokens, mask []int) ([]float32, error)
}

// Codec converts between text and token ids and exposes the reserved markers.
// Encode must not add BOS/EOS or any other special token.
type Codec interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	MemoryStartID() int
	MemoryEndID() int
	EOSID() int
}

// MemoryTool answers a memory query. It never fails from the controller's
// point of view: failures are reported through the returned text.
type MemoryTool interface {
	Query(ctx context.Context, query string) string
}

// ToolCall records one memory tool invocation.
type ToolCall struct {
	Query  string `json:"query"`
	Result string `json:"result"`
	// Degraded is set when the query cap was hit before the end marker.
	Degraded bool `json:"degraded,omitempty"`
}

type StopReason string

const (
	StopEOS       StopReason = "eos"
	StopLength    StopReason = "length"
	StopCancelled StopReason = "cancelled"
)

// Phase is a state of the decode state machine.
type Phase uint8

const (
	PhaseGenerating Phase = iota
	PhaseCollectingQuery
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseGenerating:
		return "generating"
	case PhaseCollectingQuery:
		return "collecting_query"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Origin tells an observer where appended tokens came from.
type Origin uint8

const (
	OriginModel Origin = iota
	OriginTool
)

func (o Origin) String() string {
	if o == OriginTool {
		return "tool"
	}
	return "model"
}

// Hooks observe a run. The slices passed to OnAppend are the live sequence
// buffers: read them during the callback, never keep or modify them.
type Hooks struct {
	OnAppend   func(tokens, mask []int, origin Origin)
	OnToolCall func(call ToolCall)
}

// Request is one generation request.
type Request struct {
	Tokens []int
	Mask   []int
	Bound  Bound
	Hooks  Hooks
}

// Result is the final sequence state of a run.
type Result struct {
	Tokens         []int
	Mask           []int
	ToolCalls      []ToolCall
	PromptLen      int
	Ceiling        int
	Stop           StopReason
	PredictorCalls int
}

// Generated returns the ids appended after the prompt.
func (r *Result) Generated() []int {
	if r == nil || r.PromptLen > len(r.Tokens) {
		return nil
	}
	return r.Tokens[r.PromptLen:]
}
