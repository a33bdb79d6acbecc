package api

import (
	"errors"

	"github.com/vizcayal/aha-moment/internal/decode"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// isClientError reports whether err was caused by the request itself.
func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, decode.ErrInvalidBound) ||
		errors.Is(err, decode.ErrMalformedPrompt)
}
