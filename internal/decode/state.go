package decode

import "fmt"

// State is the (tokens, mask) pair of one request. Both buffers grow in
// lockstep and never shrink.
type State struct {
	tokens    []int
	mask      []int
	promptLen int
}

// NewState copies the prompt into a fresh State.
func NewState(tokens, mask []int) (*State, error) {
	if len(tokens) != len(mask) {
		return nil, fmt.Errorf("%w: %d tokens but %d mask entries", ErrMalformedPrompt, len(tokens), len(mask))
	}
	for i, m := range mask {
		if m != 0 && m != 1 {
			return nil, fmt.Errorf("%w: mask[%d]=%d, want 0 or 1", ErrMalformedPrompt, i, m)
		}
	}
	return &State{
		tokens:    append(make([]int, 0, len(tokens)+32), tokens...),
		mask:      append(make([]int, 0, len(mask)+32), mask...),
		promptLen: len(tokens),
	}, nil
}

func (s *State) Len() int { return len(s.tokens) }

func (s *State) PromptLen() int { return s.promptLen }

// Append adds one attended token.
func (s *State) Append(id int) {
	s.tokens = append(s.tokens, id)
	s.mask = append(s.mask, 1)
}

// Extend adds attended tokens in order.
func (s *State) Extend(ids []int) {
	for _, id := range ids {
		s.Append(id)
	}
}

// Tokens returns a copy of the token buffer.
func (s *State) Tokens() []int { return append([]int(nil), s.tokens...) }

// Mask returns a copy of the mask buffer.
func (s *State) Mask() []int { return append([]int(nil), s.mask...) }

// view returns private copies of the buffers with extra attended ids
// appended, leaving room to grow by up to spare more.
func (s *State) view(spare int, extra ...int) ([]int, []int) {
	n := len(s.tokens) + len(extra)
	tokens := make([]int, 0, n+spare)
	mask := make([]int, 0, n+spare)
	tokens = append(tokens, s.tokens...)
	mask = append(mask, s.mask...)
	for _, id := range extra {
		tokens = append(tokens, id)
		mask = append(mask, 1)
	}
	return tokens, mask
}
