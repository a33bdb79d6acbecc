package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/vizcayal/aha-moment/internal/logger"
	"github.com/vizcayal/aha-moment/internal/logits"
)

// Config wires the collaborators of a Controller.
type Config struct {
	Predictor Predictor
	Codec     Codec
	Tool      MemoryTool
	// Logger defaults to the logger carried by the run context.
	Logger logger.Logger
}

// Controller drives greedy decoding with memory tool interleaving. It holds
// only its collaborators, so one Controller may serve concurrent runs as long
// as the collaborators allow it.
type Controller struct {
	predictor Predictor
	codec     Codec
	tool      MemoryTool
	log       logger.Logger
	vocab     int
}

func New(cfg Config) (*Controller, error) {
	if cfg.Predictor == nil {
		return nil, errors.New("decode: predictor is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("decode: codec is required")
	}
	if cfg.Tool == nil {
		return nil, errors.New("decode: memory tool is required")
	}
	c := &Controller{
		predictor: cfg.Predictor,
		codec:     cfg.Codec,
		tool:      cfg.Tool,
		log:       cfg.Logger,
	}
	if v, ok := cfg.Codec.(interface{ VocabSize() int }); ok {
		c.vocab = v.VocabSize()
	}
	return c, nil
}

// Run executes one request to completion.
//
// Malformed prompts, invalid bounds and predictor or codec failures return a
// nil Result. When ctx is cancelled the partial Result is returned together
// with the context error.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	state, err := NewState(req.Tokens, req.Mask)
	if err != nil {
		return nil, err
	}
	ceiling, err := req.Bound.Ceiling(state.Len())
	if err != nil {
		return nil, err
	}

	log := c.log
	if log == nil {
		log = logger.FromContext(ctx)
	}
	r := &run{
		Controller: c,
		log:        log.With("component", "decode"),
		hooks:      req.Hooks,
		state:      state,
		ceiling:    ceiling,
		phase:      PhaseGenerating,
	}

	if err := r.drive(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			r.terminate(StopCancelled)
			return r.result(), err
		}
		return nil, err
	}
	return r.result(), nil
}

// run is the mutable state of one request.
type run struct {
	*Controller
	log   logger.Logger
	hooks Hooks

	state   *State
	ceiling int
	// spent counts positions consumed by markers and query ids, which occupy
	// the sequence during collection but are not kept in it.
	spent int
	phase Phase
	trace []ToolCall
	stop  StopReason
	calls int
}

// used is the number of positions charged against the ceiling.
func (r *run) used() int { return r.state.Len() + r.spent }

func (r *run) drive(ctx context.Context) error {
	for r.phase != PhaseTerminated {
		var err error
		switch r.phase {
		case PhaseGenerating:
			err = r.generate(ctx)
		case PhaseCollectingQuery:
			err = r.collect(ctx)
		default:
			err = fmt.Errorf("decode: unexpected phase %s", r.phase)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// generate performs one step of the Generating phase.
func (r *run) generate(ctx context.Context) error {
	if r.used() >= r.ceiling {
		r.terminate(StopLength)
		return nil
	}
	next, err := r.predict(ctx, r.state.tokens, r.state.mask)
	if err != nil {
		return err
	}

	if next == r.codec.MemoryStartID() {
		// The marker needs a position and the query at least one more.
		if r.used()+1 >= r.ceiling {
			r.log.Debug("memory trigger at length ceiling", "length", r.state.Len(), "ceiling", r.ceiling)
			r.terminate(StopLength)
			return nil
		}
		r.phase = PhaseCollectingQuery
		return nil
	}

	r.state.Append(next)
	r.notifyAppend(OriginModel)
	if next == r.codec.EOSID() {
		r.terminate(StopEOS)
	}
	return nil
}

// collect runs the Collecting phase from the trigger to the spliced result.
func (r *run) collect(ctx context.Context) error {
	start := r.used()
	tokens, mask := r.state.view(MaxQueryTokens, r.codec.MemoryStartID())
	query := make([]int, 0, MaxQueryTokens)
	closed := false

	for len(query) < MaxQueryTokens {
		if start+1+len(query) >= r.ceiling {
			r.log.Debug("length ceiling reached while collecting memory query",
				"query_tokens", len(query), "ceiling", r.ceiling)
			r.terminate(StopLength)
			return nil
		}
		id, err := r.predict(ctx, tokens, mask)
		if err != nil {
			return err
		}
		query = append(query, id)
		if id == r.codec.MemoryEndID() {
			closed = true
			break
		}
		tokens = append(tokens, id)
		mask = append(mask, 1)
	}
	r.spent += 1 + len(query)

	ids := query
	if closed {
		ids = query[:len(query)-1]
	}
	text, err := r.codec.Decode(ids)
	if err != nil {
		return fmt.Errorf("%w: decode memory query: %w", ErrCodec, err)
	}

	result := r.queryTool(ctx, text)
	resultIDs, err := r.codec.Encode(result)
	if err != nil {
		return fmt.Errorf("%w: encode memory result: %w", ErrCodec, err)
	}
	if room := r.ceiling - r.used(); len(resultIDs) > room {
		r.log.Debug("memory result clipped at length ceiling", "result_tokens", len(resultIDs), "kept", room)
		resultIDs = resultIDs[:room]
	}

	r.state.Extend(resultIDs)
	if len(resultIDs) > 0 {
		r.notifyAppend(OriginTool)
	}

	call := ToolCall{Query: text, Result: result, Degraded: !closed}
	r.trace = append(r.trace, call)
	if r.hooks.OnToolCall != nil {
		r.hooks.OnToolCall(call)
	}
	r.log.Debug("memory tool call",
		"query_tokens", len(query),
		"result_tokens", len(resultIDs),
		"degraded", call.Degraded,
	)

	r.phase = PhaseGenerating
	return nil
}

// predict queries the predictor and selects the next id greedily.
func (r *run) predict(ctx context.Context, tokens, mask []int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("decode cancelled: %w", err)
	}
	r.calls++
	out, err := safePredict(ctx, r.predictor, tokens, mask)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("decode cancelled: %w", ctxErr)
		}
		return 0, fmt.Errorf("%w: call %d: %w", ErrPredictor, r.calls, err)
	}
	id, err := logits.Greedy(out, r.vocab)
	if err != nil {
		return 0, fmt.Errorf("%w: call %d: %w", ErrPredictor, r.calls, err)
	}
	return id, nil
}

func (r *run) queryTool(ctx context.Context, query string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("memory tool panicked", "panic", fmt.Sprint(rec))
			result = ""
		}
	}()
	return r.tool.Query(ctx, query)
}

func (r *run) notifyAppend(origin Origin) {
	if r.hooks.OnAppend != nil {
		r.hooks.OnAppend(r.state.tokens, r.state.mask, origin)
	}
}

func (r *run) terminate(reason StopReason) {
	r.phase = PhaseTerminated
	r.stop = reason
	r.log.Debug("decode terminated",
		"stop", string(reason),
		"length", r.state.Len(),
		"generated", r.state.Len()-r.state.PromptLen(),
		"tool_calls", len(r.trace),
		"predictor_calls", r.calls,
	)
}

func (r *run) result() *Result {
	return &Result{
		Tokens:         r.state.Tokens(),
		Mask:           r.state.Mask(),
		ToolCalls:      append([]ToolCall(nil), r.trace...),
		PromptLen:      r.state.PromptLen(),
		Ceiling:        r.ceiling,
		Stop:           r.stop,
		PredictorCalls: r.calls,
	}
}

func safePredict(ctx context.Context, p Predictor, tokens, mask []int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Predict: %v", rec)
		}
	}()
	return p.Predict(ctx, tokens, mask)
}
