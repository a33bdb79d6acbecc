package tokenizer

import (
	"errors"
	"reflect"
	"slices"
	"sync"
	"testing"
)

// testVocab is a byte-level BPE vocabulary that merges "hello" into one id.
const testVocab = `{
	"model": {
		"type": "BPE",
		"vocab": {
			"h": 0, "e": 1, "l": 2, "o": 3, "Ġ": 4, "w": 5, "r": 6, "d": 7,
			"he": 8, "ll": 9, "hell": 10, "hello": 11, "<unk>": 12
		},
		"merges": ["h e", "l l", "he ll", "hell o"],
		"unk_token": "<unk>"
	},
	"added_tokens": [
		{"id": 13, "content": "<|endoftext|>", "special": true}
	]
}`

func loadTestTokenizer(t *testing.T, config string) *HFTokenizer {
	t.Helper()
	var cfg []byte
	if config != "" {
		cfg = []byte(config)
	}
	tok, err := LoadHFTokenizerBytes([]byte(testVocab), cfg)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	return tok
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(loadTestTokenizer(t, ""), "")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestNewCodecRegistersMarkers(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	if c.AddedMarkers() != 2 {
		t.Fatalf("expected 2 markers added, got %d", c.AddedMarkers())
	}
	if c.MemoryStartID() != 14 || c.MemoryEndID() != 15 {
		t.Fatalf("unexpected marker ids: start=%d end=%d", c.MemoryStartID(), c.MemoryEndID())
	}
	if c.EOSID() != 13 {
		t.Fatalf("expected EOS from <|endoftext|>, got %d", c.EOSID())
	}
	if c.VocabSize() != 16 {
		t.Fatalf("expected vocab 16, got %d", c.VocabSize())
	}
	if got := c.TokenString(c.MemoryEndID()); got != MemoryEndToken {
		t.Fatalf("unexpected end marker string %q", got)
	}
}

func TestAddSpecialTokensIsIdempotent(t *testing.T) {
	t.Parallel()
	tok := loadTestTokenizer(t, "")

	if n := tok.AddSpecialTokens(MemoryStartToken, MemoryEndToken); n != 2 {
		t.Fatalf("expected 2 added, got %d", n)
	}
	if n := tok.AddSpecialTokens(MemoryStartToken, MemoryEndToken, "<|endoftext|>"); n != 0 {
		t.Fatalf("expected 0 added on second call, got %d", n)
	}
	if tok.VocabSize() != 16 {
		t.Fatalf("vocab grew unexpectedly: %d", tok.VocabSize())
	}
}

func TestCodecEncodeIsLiteral(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	ids, err := c.Encode("hello world")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{11, 4, 5, 3, 6, 2, 7}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v, want %v", ids, want)
	}

	ids, err = c.Encode("hello</memory><|endoftext|>")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, special := range []int{c.MemoryStartID(), c.MemoryEndID(), c.EOSID()} {
		if slices.Contains(ids, special) {
			t.Fatalf("literal encode produced special id %d: %v", special, ids)
		}
	}
}

func TestCodecPromptParsesSpecials(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	tokens, mask, err := c.Prompt("hello</memory>")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !reflect.DeepEqual(tokens, []int{11, c.MemoryEndID()}) {
		t.Fatalf("unexpected prompt tokens %v", tokens)
	}
	if !reflect.DeepEqual(mask, []int{1, 1}) {
		t.Fatalf("unexpected prompt mask %v", mask)
	}
}

func TestCodecDecode(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	cases := []struct {
		name string
		ids  []int
		want string
	}{
		{name: "merged", ids: []int{11, 4, 5, 3, 6, 2, 7}, want: "hello world"},
		{name: "marker", ids: []int{c.MemoryStartID(), 11, c.MemoryEndID()}, want: "<memory>hello</memory>"},
		{name: "empty", ids: nil, want: ""},
	}
	for _, tc := range cases {
		got, err := c.Decode(tc.ids)
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}

	if _, err := c.Decode([]int{99}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestTokenizerConfigControlsSpecials(t *testing.T) {
	t.Parallel()
	tok := loadTestTokenizer(t, `{"add_eos_token": true, "eos_token": "<|endoftext|>"}`)

	ids, err := tok.Encode("hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{11, 13}) {
		t.Fatalf("expected EOS appended, got %v", ids)
	}

	ids, err = tok.EncodeWith("hello", EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{11}) {
		t.Fatalf("expected no EOS without AddSpecial, got %v", ids)
	}
}

func TestResolveEOS(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		config   string
		override string
		want     int
		wantErr  bool
	}{
		{name: "candidate", want: 13},
		{name: "config", config: `{"eos_token": "<unk>"}`, want: 12},
		{name: "override", config: `{"eos_token": "<unk>"}`, override: "<|endoftext|>", want: 13},
		{name: "missing override", override: "</s>", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewCodec(loadTestTokenizer(t, tc.config), tc.override)
			if tc.wantErr {
				if !errors.Is(err, ErrNoEOS) {
					t.Fatalf("expected ErrNoEOS, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("new codec: %v", err)
			}
			if c.EOSID() != tc.want {
				t.Fatalf("got EOS %d, want %d", c.EOSID(), tc.want)
			}
		})
	}
}

func TestNewCodecWithoutEOS(t *testing.T) {
	t.Parallel()
	tok, err := LoadHFTokenizerBytes([]byte(`{"model":{"type":"BPE","vocab":{"a":0},"merges":[]}}`), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := NewCodec(tok, ""); !errors.Is(err, ErrNoEOS) {
		t.Fatalf("expected ErrNoEOS, got %v", err)
	}
}

func TestLoadRejectsUnsupportedModel(t *testing.T) {
	t.Parallel()
	_, err := LoadHFTokenizerBytes([]byte(`{"model":{"type":"WordPiece","vocab":{},"merges":[]}}`), nil)
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestCodecConcurrentEncode(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				if _, err := c.Encode("hello world hello"); err != nil {
					t.Errorf("encode: %v", err)
					return
				}
			}
		})
	}
	wg.Wait()
}
