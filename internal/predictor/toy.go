package predictor

import (
	"context"
	"fmt"
	"math/rand"
)

// Toy is a minimal language model for exercising the decode loop without real
// weights. It embeds the last attended token and projects it back to vocab
// logits. Weights are fixed at construction so Predict is deterministic and
// safe for concurrent use.
type Toy struct {
	vocab  int
	hidden int

	emb  []float32 // [vocab x hidden]
	w    []float32 // [hidden x vocab]
	bias []float32 // [vocab]
}

// NewToy builds a model whose weights are derived from seed.
func NewToy(vocab, hidden int, seed int64) (*Toy, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("toy: vocab and hidden must be positive, got %d and %d", vocab, hidden)
	}
	m := &Toy{
		vocab:  vocab,
		hidden: hidden,
		emb:    make([]float32, vocab*hidden),
		w:      make([]float32, hidden*vocab),
		bias:   make([]float32, vocab),
	}
	fillRand(m.emb, seed+11)
	fillRand(m.w, seed+23)
	return m, nil
}

func fillRand(x []float32, seed int64) {
	r := rand.New(rand.NewSource(seed))
	for i := range x {
		x[i] = r.Float32()*2 - 1
	}
}

func (m *Toy) VocabSize() int { return m.vocab }

// SetBias overrides the bias of one id, which lets callers steer the model
// towards specific tokens.
func (m *Toy) SetBias(id int, v float32) {
	if id >= 0 && id < m.vocab {
		m.bias[id] = v
	}
}

// Predict scores the position after the last attended token. Ids outside the
// vocabulary wrap around; a sequence with nothing attended uses id 0.
func (m *Toy) Predict(ctx context.Context, tokens, mask []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) != len(mask) {
		return nil, fmt.Errorf("toy: %d tokens but %d mask entries", len(tokens), len(mask))
	}
	tok := 0
	for i := len(tokens) - 1; i >= 0; i-- {
		if mask[i] == 1 {
			tok = tokens[i]
			break
		}
	}
	return m.forward(tok), nil
}

func (m *Toy) forward(tok int) []float32 {
	tok %= m.vocab
	if tok < 0 {
		tok += m.vocab
	}
	h := m.emb[tok*m.hidden : (tok+1)*m.hidden]
	logits := make([]float32, m.vocab)
	for j := range logits {
		var sum float32
		for i, hv := range h {
			sum += hv * m.w[i*m.vocab+j]
		}
		logits[j] = sum + m.bias[j]
	}
	return logits
}
