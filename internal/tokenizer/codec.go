package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MemoryStartToken = "<memory>"
	MemoryEndToken   = "</memory>"
)

var ErrNoEOS = errors.New("tokenizer has no end-of-sequence token")

// eosCandidates are tried in order when tokenizer_config names no EOS.
var eosCandidates = []string{
	"<|endoftext|>",
	"<|end_of_text|>",
	"</s>",
	"<|im_end|>",
	"<eos>",
}

// Codec binds a tokenizer to the memory markers and the EOS id used during
// decoding. It is immutable once built.
type Codec struct {
	tok      *HFTokenizer
	startID  int
	endID    int
	eosID    int
	vocab    int
	newMarks int
}

// NewCodec registers the memory markers on tok and resolves the EOS id.
// A non-empty eos names the EOS token explicitly.
func NewCodec(tok *HFTokenizer, eos string) (*Codec, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	added := tok.AddSpecialTokens(MemoryStartToken, MemoryEndToken)
	start, _ := tok.TokenID(MemoryStartToken)
	end, _ := tok.TokenID(MemoryEndToken)

	eosID, err := resolveEOS(tok, eos)
	if err != nil {
		return nil, err
	}
	if eosID == start || eosID == end {
		return nil, fmt.Errorf("eos id %d collides with a memory marker", eosID)
	}
	return &Codec{
		tok:      tok,
		startID:  start,
		endID:    end,
		eosID:    eosID,
		vocab:    tok.VocabSize(),
		newMarks: added,
	}, nil
}

func resolveEOS(tok *HFTokenizer, override string) (int, error) {
	if override = strings.TrimSpace(override); override != "" {
		id, ok := tok.TokenID(override)
		if !ok {
			return -1, fmt.Errorf("%w: %q is not in the vocabulary", ErrNoEOS, override)
		}
		return id, nil
	}
	if id := tok.EOSID(); id >= 0 {
		return id, nil
	}
	for _, s := range eosCandidates {
		if id, ok := tok.TokenID(s); ok {
			return id, nil
		}
	}
	return -1, ErrNoEOS
}

// Encode converts tool output to ids literally: no BOS/EOS is added and
// marker strings inside the text are not treated as markers.
func (c *Codec) Encode(text string) ([]int, error) {
	return c.tok.EncodeWith(text, EncodeOptions{})
}

func (c *Codec) Decode(ids []int) (string, error) { return c.tok.Decode(ids) }

func (c *Codec) MemoryStartID() int { return c.startID }
func (c *Codec) MemoryEndID() int   { return c.endID }
func (c *Codec) EOSID() int         { return c.eosID }

// VocabSize is the logits width a predictor must produce.
func (c *Codec) VocabSize() int { return c.vocab }

// AddedMarkers reports how many marker ids were appended to the vocabulary.
func (c *Codec) AddedMarkers() int { return c.newMarks }

// Prompt encodes a text prompt with BOS/EOS as configured and special tokens
// parsed. Every position is attended.
func (c *Codec) Prompt(text string) (tokens, mask []int, err error) {
	tokens, err = c.tok.Encode(text)
	if err != nil {
		return nil, nil, err
	}
	mask = make([]int, len(tokens))
	for i := range mask {
		mask[i] = 1
	}
	return tokens, mask, nil
}

// TokenString returns the vocabulary entry of id.
func (c *Codec) TokenString(id int) string { return c.tok.TokenString(id) }
