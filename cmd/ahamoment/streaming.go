package main

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamQuiet   StreamMode = "quiet"
)

// StreamWriter prints streamed completion text. In quiet mode text is only
// accumulated.
type StreamWriter struct {
	mode StreamMode

	mu          sync.Mutex
	buffer      *bufio.Writer
	accumulator strings.Builder
}

func NewStreamWriter(mode StreamMode, out io.Writer) *StreamWriter {
	return &StreamWriter{
		mode:   mode,
		buffer: bufio.NewWriterSize(out, 4096),
	}
}

// Write handles one piece of streamed text.
func (w *StreamWriter) Write(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accumulator.WriteString(token)
	if w.mode == StreamQuiet {
		return
	}
	_, _ = w.buffer.WriteString(token)
	_ = w.buffer.Flush()
}

// Flush ends the stream and returns everything written to it.
func (w *StreamWriter) Flush() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != StreamQuiet && w.accumulator.Len() > 0 {
		_, _ = w.buffer.WriteString("\n")
	}
	_ = w.buffer.Flush()
	return w.accumulator.String()
}
