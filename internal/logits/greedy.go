package logits

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmpty     = errors.New("logits: empty vector")
	ErrShape     = errors.New("logits: vector size does not match vocabulary")
	ErrNotFinite = errors.New("logits: NaN value")
)

// Validate checks that a logits vector is usable for selection. A vocab of
// zero or less skips the size check.
func Validate(x []float32, vocab int) error {
	if len(x) == 0 {
		return ErrEmpty
	}
	if vocab > 0 && len(x) != vocab {
		return fmt.Errorf("%w: got %d, want %d", ErrShape, len(x), vocab)
	}
	for i, v := range x {
		if math.IsNaN(float64(v)) {
			return fmt.Errorf("%w at index %d", ErrNotFinite, i)
		}
	}
	return nil
}

// Argmax returns the index of the maximum value in the slice. Ties resolve
// to the lowest index. It returns -1 for an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// Greedy validates x and returns its argmax.
func Greedy(x []float32, vocab int) (int, error) {
	if err := Validate(x, vocab); err != nil {
		return -1, err
	}
	return Argmax(x), nil
}

// OneHot returns a vocab-sized vector whose argmax is id.
func OneHot(vocab, id int) []float32 {
	out := make([]float32, vocab)
	if id >= 0 && id < vocab {
		out[id] = 1
	}
	return out
}
