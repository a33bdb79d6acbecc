package decode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/vizcayal/aha-moment/internal/logger"
	"github.com/vizcayal/aha-moment/internal/logits"
)

const (
	testEOS   = 9
	testStart = 10
	testEnd   = 11
	testVocab = 12
)

// digitCodec maps ids 0-8 to their decimal digit.
type digitCodec struct{}

func (digitCodec) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		if r < '0' || r > '8' {
			return nil, fmt.Errorf("no id for %q", r)
		}
		ids = append(ids, int(r-'0'))
	}
	return ids, nil
}

func (digitCodec) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		switch {
		case id >= 0 && id <= 8:
			b.WriteString(strconv.Itoa(id))
		case id == testStart:
			b.WriteString("<memory>")
		case id == testEnd:
			b.WriteString("</memory>")
		default:
			return "", fmt.Errorf("id out of range: %d", id)
		}
	}
	return b.String(), nil
}

func (digitCodec) MemoryStartID() int { return testStart }
func (digitCodec) MemoryEndID() int   { return testEnd }
func (digitCodec) EOSID() int         { return testEOS }
func (digitCodec) VocabSize() int     { return testVocab }

// scriptPredictor emits ids in order, then repeats last forever.
type scriptPredictor struct {
	mu     sync.Mutex
	ids    []int
	last   int
	calls  int
	inputs [][]int
}

func (p *scriptPredictor) Predict(_ context.Context, tokens, mask []int) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(tokens) != len(mask) {
		return nil, fmt.Errorf("predictor saw %d tokens and %d mask entries", len(tokens), len(mask))
	}
	p.inputs = append(p.inputs, append([]int(nil), tokens...))
	id := p.last
	if p.calls < len(p.ids) {
		id = p.ids[p.calls]
	}
	p.calls++
	return logits.OneHot(testVocab, id), nil
}

type predictFunc func(ctx context.Context, tokens, mask []int) ([]float32, error)

func (f predictFunc) Predict(ctx context.Context, tokens, mask []int) ([]float32, error) {
	return f(ctx, tokens, mask)
}

type mapTool struct {
	mu      sync.Mutex
	answers map[string]string
	queries []string
}

func (m *mapTool) Query(_ context.Context, q string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	return m.answers[q]
}

type panicTool struct{}

func (panicTool) Query(context.Context, string) string { panic("tool boom") }

func newTestController(t *testing.T, p Predictor, tool MemoryTool) *Controller {
	t.Helper()
	c, err := New(Config{Predictor: p, Codec: digitCodec{}, Tool: tool, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func repeat(id, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = id
	}
	return out
}

func TestRunStopsOnEOS(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{last: testEOS}
	c := newTestController(t, p, &mapTool{})
	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxNewTokens(10),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []int{5, 6, 9}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
	if want := []int{1, 1, 1}; !reflect.DeepEqual(res.Mask, want) {
		t.Fatalf("mask: got %v, want %v", res.Mask, want)
	}
	if len(res.ToolCalls) != 0 {
		t.Fatalf("expected empty trace, got %v", res.ToolCalls)
	}
	if res.Stop != StopEOS {
		t.Fatalf("stop: got %q, want %q", res.Stop, StopEOS)
	}
	if !reflect.DeepEqual(res.Generated(), []int{9}) {
		t.Fatalf("generated: got %v", res.Generated())
	}
}

func TestRunSplicesMemoryResult(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, 8, testEnd, 3}, last: testEOS}
	tool := &mapTool{answers: map[string]string{"78": "42"}}
	c := newTestController(t, p, tool)

	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxNewTokens(20),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []int{5, 6, 4, 2, 3, 9}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
	if len(res.Mask) != len(res.Tokens) {
		t.Fatalf("mask length %d != tokens length %d", len(res.Mask), len(res.Tokens))
	}
	want := []ToolCall{{Query: "78", Result: "42"}}
	if !reflect.DeepEqual(res.ToolCalls, want) {
		t.Fatalf("trace: got %+v, want %+v", res.ToolCalls, want)
	}

	// The query was collected over a view carrying the marker, never over
	// the visible sequence.
	if got := p.inputs[1]; !reflect.DeepEqual(got, []int{5, 6, testStart}) {
		t.Fatalf("first query step saw %v", got)
	}
	if got := p.inputs[3]; !reflect.DeepEqual(got, []int{5, 6, testStart, 7, 8}) {
		t.Fatalf("last query step saw %v", got)
	}
	if got := p.inputs[4]; !reflect.DeepEqual(got, []int{5, 6, 4, 2}) {
		t.Fatalf("resumed generation saw %v", got)
	}
	for _, id := range res.Tokens {
		if id == testStart || id == testEnd {
			t.Fatalf("marker leaked into output: %v", res.Tokens)
		}
	}
}

func TestRunQueryCapSubmitsDegradedQuery(t *testing.T) {
	t.Parallel()

	script := append([]int{testStart}, repeat(7, MaxQueryTokens)...)
	script = append(script, 3)
	p := &scriptPredictor{ids: script, last: testEOS}
	tool := &mapTool{answers: map[string]string{strings.Repeat("7", MaxQueryTokens): "1"}}
	c := newTestController(t, p, tool)

	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5},
		Mask:   []int{1},
		Bound:  MaxNewTokens(500),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tool.queries) != 1 || len(tool.queries[0]) != MaxQueryTokens {
		t.Fatalf("expected one %d-char query, got %v", MaxQueryTokens, tool.queries)
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].Degraded || res.ToolCalls[0].Result != "1" {
		t.Fatalf("unexpected trace: %+v", res.ToolCalls)
	}
	if want := []int{5, 1, 3, 9}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
	if res.PredictorCalls != 1+MaxQueryTokens+2 {
		t.Fatalf("predictor calls: got %d, want %d", res.PredictorCalls, 1+MaxQueryTokens+2)
	}
}

func TestRunTriggerAtCeilingSkipsCollection(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, testEnd}, last: testEOS}
	tool := &mapTool{}
	c := newTestController(t, p, tool)

	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxNewTokens(1),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(res.Tokens, []int{5, 6}) {
		t.Fatalf("tokens: got %v", res.Tokens)
	}
	if len(res.ToolCalls) != 0 || len(tool.queries) != 0 {
		t.Fatalf("tool must not run: trace=%v queries=%v", res.ToolCalls, tool.queries)
	}
	if res.Stop != StopLength {
		t.Fatalf("stop: got %q", res.Stop)
	}
	if p.calls != 1 {
		t.Fatalf("expected a single predictor call, got %d", p.calls)
	}
}

func TestRunCeilingDuringCollectionDropsToolCall(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, 7, testEnd}, last: testEOS}
	tool := &mapTool{}
	c := newTestController(t, p, tool)

	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxLength(4),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tool.queries) != 0 || len(res.ToolCalls) != 0 {
		t.Fatalf("truncated query must not reach the tool: %v", tool.queries)
	}
	if !reflect.DeepEqual(res.Tokens, []int{5, 6}) || res.Stop != StopLength {
		t.Fatalf("unexpected result: tokens=%v stop=%q", res.Tokens, res.Stop)
	}
}

func TestRunClipsResultAtCeiling(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, testEnd}, last: testEOS}
	tool := &mapTool{answers: map[string]string{"7": "42"}}
	c := newTestController(t, p, tool)

	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxNewTokens(4),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []int{5, 6, 4}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Result != "42" {
		t.Fatalf("trace should keep the full result: %+v", res.ToolCalls)
	}
	if res.Stop != StopLength {
		t.Fatalf("stop: got %q", res.Stop)
	}
}

func TestRunInvariantsHoldAtEveryStep(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{1, testStart, 2, testEnd, 3, testStart, testEnd, 4}, last: 5}
	tool := &mapTool{answers: map[string]string{"2": "876", "": ""}}
	c := newTestController(t, p, tool)

	prev := 2
	var origins []Origin
	hooks := Hooks{
		OnAppend: func(tokens, mask []int, origin Origin) {
			if len(tokens) != len(mask) {
				t.Errorf("length invariant broken: %d tokens, %d mask", len(tokens), len(mask))
			}
			if len(tokens) < prev {
				t.Errorf("sequence shrank from %d to %d", prev, len(tokens))
			}
			prev = len(tokens)
			origins = append(origins, origin)
		},
	}
	res, err := c.Run(context.Background(), Request{
		Tokens: []int{0, 0},
		Mask:   []int{0, 1},
		Bound:  MaxLength(20),
		Hooks:  hooks,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Tokens) > 20 {
		t.Fatalf("ceiling exceeded: %d", len(res.Tokens))
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected two tool calls, got %+v", res.ToolCalls)
	}
	if res.ToolCalls[1].Query != "" {
		t.Fatalf("empty query expected, got %q", res.ToolCalls[1].Query)
	}
	wantOrigins := []Origin{OriginModel, OriginTool, OriginModel, OriginModel}
	if !reflect.DeepEqual(origins[:4], wantOrigins) {
		t.Fatalf("origins: got %v, want prefix %v", origins, wantOrigins)
	}
	if res.Mask[0] != 0 {
		t.Fatalf("prompt mask must be preserved, got %v", res.Mask)
	}
}

func TestRunTerminatesOnEndlessTriggers(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{last: testStart}
	tool := &mapTool{}
	c := newTestController(t, p, tool)

	const budget = 50
	res, err := c.Run(context.Background(), Request{
		Tokens: []int{1},
		Mask:   []int{1},
		Bound:  MaxNewTokens(budget),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.PredictorCalls > budget {
		t.Fatalf("expected at most %d predictor calls, got %d", budget, res.PredictorCalls)
	}
	if res.Stop != StopLength {
		t.Fatalf("stop: got %q", res.Stop)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	script := []int{1, testStart, 7, 8, testEnd, 2, testStart, 3, testEnd, 4}
	tool := &mapTool{answers: map[string]string{"78": "42", "3": "0"}}

	var results []*Result
	for i := 0; i < 2; i++ {
		c := newTestController(t, &scriptPredictor{ids: script, last: testEOS}, tool)
		res, err := c.Run(context.Background(), Request{
			Tokens: []int{5, 6},
			Mask:   []int{1, 1},
			Bound:  MaxNewTokens(40),
		})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		results = append(results, res)
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Fatalf("runs differ:\n%+v\n%+v", results[0], results[1])
	}
}

func TestRunCancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	p := predictFunc(func(_ context.Context, tokens, _ []int) ([]float32, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return logits.OneHot(testVocab, 1), nil
	})
	c := newTestController(t, p, &mapTool{})

	res, err := c.Run(ctx, Request{Tokens: []int{5}, Mask: []int{1}, Bound: MaxNewTokens(100)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil {
		t.Fatalf("expected partial result")
	}
	if res.Stop != StopCancelled {
		t.Fatalf("stop: got %q", res.Stop)
	}
	if want := []int{5, 1, 1, 1}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
}

func TestRunPredictorFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		p       Predictor
		wantErr error
		wantMsg string
	}{
		{
			name: "error",
			p: predictFunc(func(context.Context, []int, []int) ([]float32, error) {
				return nil, errors.New("forced forward failure")
			}),
			wantMsg: "forced forward failure",
		},
		{
			name: "panic",
			p: predictFunc(func(context.Context, []int, []int) ([]float32, error) {
				panic("boom")
			}),
			wantMsg: "panic in Predict",
		},
		{
			name: "wrong vocabulary size",
			p: predictFunc(func(context.Context, []int, []int) ([]float32, error) {
				return []float32{1, 2}, nil
			}),
			wantErr: logits.ErrShape,
		},
		{
			name: "empty logits",
			p: predictFunc(func(context.Context, []int, []int) ([]float32, error) {
				return nil, nil
			}),
			wantErr: logits.ErrEmpty,
		},
		{
			name: "nan",
			p: predictFunc(func(context.Context, []int, []int) ([]float32, error) {
				out := logits.OneHot(testVocab, 1)
				out[3] = float32(math.NaN())
				return out, nil
			}),
			wantErr: logits.ErrNotFinite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestController(t, tc.p, &mapTool{})
			res, err := c.Run(context.Background(), Request{Tokens: []int{1}, Mask: []int{1}, Bound: MaxNewTokens(3)})
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
			if !errors.Is(err, ErrPredictor) {
				t.Fatalf("expected ErrPredictor, got %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "mask shorter than tokens",
			req:  Request{Tokens: []int{1, 2}, Mask: []int{1}, Bound: MaxNewTokens(1)},
			want: ErrMalformedPrompt,
		},
		{
			name: "mask value out of range",
			req:  Request{Tokens: []int{1, 2}, Mask: []int{1, 2}, Bound: MaxNewTokens(1)},
			want: ErrMalformedPrompt,
		},
		{
			name: "no bound",
			req:  Request{Tokens: []int{1}, Mask: []int{1}},
			want: ErrInvalidBound,
		},
		{
			name: "max length below prompt",
			req:  Request{Tokens: []int{1, 2, 3}, Mask: []int{1, 1, 1}, Bound: MaxLength(2)},
			want: ErrInvalidBound,
		},
		{
			name: "negative budget",
			req:  Request{Tokens: []int{1}, Mask: []int{1}, Bound: MaxNewTokens(-1)},
			want: ErrInvalidBound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &scriptPredictor{last: testEOS}
			c := newTestController(t, p, &mapTool{})
			res, err := c.Run(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if res != nil {
				t.Fatalf("expected nil result")
			}
			if p.calls != 0 {
				t.Fatalf("predictor must not be called, got %d calls", p.calls)
			}
		})
	}
}

func TestBoundCeilingSaturates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		bound     Bound
		promptLen int
		want      int
	}{
		{name: "new tokens", bound: MaxNewTokens(5), promptLen: 2, want: 7},
		{name: "new tokens at max int", bound: MaxNewTokens(math.MaxInt), promptLen: 2, want: math.MaxInt},
		{name: "new tokens just fits", bound: MaxNewTokens(math.MaxInt - 2), promptLen: 2, want: math.MaxInt},
		{name: "max length", bound: MaxLength(math.MaxInt), promptLen: 2, want: math.MaxInt},
	}
	for _, tc := range cases {
		got, err := tc.bound.Ceiling(tc.promptLen)
		if err != nil {
			t.Fatalf("%s: ceiling: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: ceiling = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRunHugeBudgetStillGenerates(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{3, 4}, last: testEOS}
	c := newTestController(t, p, &mapTool{})
	res, err := c.Run(context.Background(), Request{
		Tokens: []int{5, 6},
		Mask:   []int{1, 1},
		Bound:  MaxNewTokens(math.MaxInt),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []int{5, 6, 3, 4, 9}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
	if res.Stop != StopEOS {
		t.Fatalf("stop: got %q, want %q", res.Stop, StopEOS)
	}
}

func TestRunToolPanicIsNotFatal(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, testEnd, 3}, last: testEOS}
	c := newTestController(t, p, panicTool{})

	res, err := c.Run(context.Background(), Request{Tokens: []int{5}, Mask: []int{1}, Bound: MaxNewTokens(10)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []ToolCall{{Query: "7", Result: ""}}; !reflect.DeepEqual(res.ToolCalls, want) {
		t.Fatalf("trace: got %+v", res.ToolCalls)
	}
	if want := []int{5, 3, 9}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens: got %v, want %v", res.Tokens, want)
	}
}

func TestRunCodecFailureIsFatal(t *testing.T) {
	t.Parallel()

	p := &scriptPredictor{ids: []int{testStart, 7, testEnd}, last: testEOS}
	tool := &mapTool{answers: map[string]string{"7": "not digits"}}
	c := newTestController(t, p, tool)

	_, err := c.Run(context.Background(), Request{Tokens: []int{5}, Mask: []int{1}, Bound: MaxNewTokens(10)})
	if !errors.Is(err, ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestRunDoesNotAliasPrompt(t *testing.T) {
	t.Parallel()

	tokens := []int{5, 6}
	mask := []int{1, 1}
	c := newTestController(t, &scriptPredictor{last: testEOS}, &mapTool{})
	res, err := c.Run(context.Background(), Request{Tokens: tokens, Mask: mask, Bound: MaxNewTokens(2)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res.Tokens[0] = 8
	if tokens[0] != 5 {
		t.Fatalf("caller prompt was modified")
	}
}

func TestControllerServesConcurrentRuns(t *testing.T) {
	t.Parallel()

	// Pure predictor: EOS once the sequence reaches eight tokens.
	p := predictFunc(func(_ context.Context, tokens, _ []int) ([]float32, error) {
		if len(tokens) >= 8 {
			return logits.OneHot(testVocab, testEOS), nil
		}
		return logits.OneHot(testVocab, len(tokens)%9), nil
	})
	c := newTestController(t, p, &mapTool{})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			res, err := c.Run(context.Background(), Request{
				Tokens: []int{seed % 9},
				Mask:   []int{1},
				Bound:  MaxNewTokens(20),
			})
			if err != nil {
				errs <- err
				return
			}
			if len(res.Tokens) != 9 || res.Stop != StopEOS {
				errs <- fmt.Errorf("seed %d: tokens=%v stop=%q", seed, res.Tokens, res.Stop)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Codec: digitCodec{}, Tool: &mapTool{}}); err == nil {
		t.Fatalf("expected error without predictor")
	}
	if _, err := New(Config{Predictor: &scriptPredictor{}, Tool: &mapTool{}}); err == nil {
		t.Fatalf("expected error without codec")
	}
	if _, err := New(Config{Predictor: &scriptPredictor{}, Codec: digitCodec{}}); err == nil {
		t.Fatalf("expected error without tool")
	}
}
