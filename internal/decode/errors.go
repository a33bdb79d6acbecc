package decode

import "errors"

var (
	ErrMalformedPrompt = errors.New("malformed prompt")
	ErrInvalidBound    = errors.New("invalid length bound")
	ErrPredictor       = errors.New("predictor failure")
	ErrCodec           = errors.New("codec failure")
)
