package decode

import (
	"fmt"
	"math"
)

type boundKind uint8

const (
	boundUnset boundKind = iota
	boundNewTokens
	boundLength
)

// Bound is a length policy. The zero value is unset; a request must carry
// exactly one of MaxNewTokens or MaxLength.
type Bound struct {
	kind boundKind
	n    int
}

// MaxNewTokens bounds the number of positions consumed after the prompt.
func MaxNewTokens(n int) Bound { return Bound{kind: boundNewTokens, n: n} }

// MaxLength bounds the absolute sequence length.
func MaxLength(n int) Bound { return Bound{kind: boundLength, n: n} }

func (b Bound) IsSet() bool { return b.kind != boundUnset }

func (b Bound) String() string {
	switch b.kind {
	case boundNewTokens:
		return fmt.Sprintf("max_new_tokens=%d", b.n)
	case boundLength:
		return fmt.Sprintf("max_length=%d", b.n)
	default:
		return "unset"
	}
}

// Ceiling normalises the bound to an absolute length for a prompt of the
// given length.
func (b Bound) Ceiling(promptLen int) (int, error) {
	if b.n < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidBound, b)
	}
	switch b.kind {
	case boundNewTokens:
		if b.n > math.MaxInt-promptLen {
			return math.MaxInt, nil
		}
		return promptLen + b.n, nil
	case boundLength:
		if b.n < promptLen {
			return 0, fmt.Errorf("%w: %s is shorter than the prompt (%d tokens)", ErrInvalidBound, b, promptLen)
		}
		return b.n, nil
	default:
		return 0, fmt.Errorf("%w: one of max_new_tokens or max_length is required", ErrInvalidBound)
	}
}

// ResolveBound builds a Bound from optional fields. Both set is an error;
// neither set yields the unset Bound so callers can apply their default.
func ResolveBound(maxNewTokens, maxLength *int) (Bound, error) {
	switch {
	case maxNewTokens != nil && maxLength != nil:
		return Bound{}, fmt.Errorf("%w: max_new_tokens and max_length are mutually exclusive", ErrInvalidBound)
	case maxNewTokens != nil:
		return MaxNewTokens(*maxNewTokens), nil
	case maxLength != nil:
		return MaxLength(*maxLength), nil
	default:
		return Bound{}, nil
	}
}
