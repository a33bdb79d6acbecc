package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter emits generation events as server-sent events.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
	begun   bool
}

type streamEvent struct {
	Type           string      `json:"type"`
	Generation     *Generation `json:"generation,omitempty"`
	Delta          string      `json:"delta,omitempty"`
	SequenceNumber int         `json:"sequence_number"`
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{w: res, flusher: flusher.Flush, seq: 1}, nil
}

func (s *SSEStreamWriter) Begin(gen Generation) error {
	s.begun = true
	return s.emit(streamEvent{Type: "generation.created", Generation: &gen})
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

func (s *SSEStreamWriter) EmitToken(delta string) error {
	return s.emit(streamEvent{Type: "generation.delta", Delta: delta})
}

func (s *SSEStreamWriter) Complete(gen Generation) error {
	return s.emit(streamEvent{Type: "generation.completed", Generation: &gen})
}

func (s *SSEStreamWriter) Failed(gen Generation, err error) error {
	gen.Status = statusFailed
	if gen.Error == nil {
		gen.Error = &APIError{Message: err.Error(), Type: "server_error"}
	}
	return s.emit(streamEvent{Type: "generation.failed", Generation: &gen})
}

func (s *SSEStreamWriter) Incomplete(gen Generation, err error) error {
	gen.Status = statusIncomplete
	if gen.Error == nil {
		gen.Error = &APIError{Message: err.Error(), Type: "cancelled"}
	}
	return s.emit(streamEvent{Type: "generation.incomplete", Generation: &gen})
}

func (s *SSEStreamWriter) emit(ev streamEvent) error {
	ev.SequenceNumber = s.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	s.seq++
	return nil
}
