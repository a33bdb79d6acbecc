package predictor

import (
	"context"
	"fmt"
	"sync"

	"github.com/vizcayal/aha-moment/internal/logits"
)

// Script replays a fixed id sequence as one-hot logits, then repeats its
// final id. It is used for dry runs and tests.
type Script struct {
	vocab int

	mu    sync.Mutex
	ids   []int
	pos   int
	calls int
}

func NewScript(vocab int, ids ...int) (*Script, error) {
	if vocab <= 0 {
		return nil, fmt.Errorf("script: vocab must be positive, got %d", vocab)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("script: at least one id is required")
	}
	for _, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("script: id %d outside vocab of %d", id, vocab)
		}
	}
	return &Script{vocab: vocab, ids: append([]int(nil), ids...)}, nil
}

func (s *Script) VocabSize() int { return s.vocab }

func (s *Script) Predict(ctx context.Context, tokens, mask []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[len(s.ids)-1]
	if s.pos < len(s.ids) {
		id = s.ids[s.pos]
		s.pos++
	}
	s.calls++
	return logits.OneHot(s.vocab, id), nil
}

// Calls reports how many predictions were served since the last Reset.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset rewinds the script to its first id.
func (s *Script) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.calls = 0
}
