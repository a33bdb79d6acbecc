package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/vizcayal/aha-moment/internal/logger"
)

// Func adapts a plain function to a memory tool.
type Func func(ctx context.Context, query string) string

func (f Func) Query(ctx context.Context, query string) string { return f(ctx, query) }

// Static answers queries from a fixed table keyed by the trimmed query.
// Unknown queries yield an empty answer.
type Static map[string]string

func (s Static) Query(_ context.Context, query string) string {
	return s[strings.TrimSpace(query)]
}

// Fallible is a memory backend that can fail.
type Fallible func(ctx context.Context, query string) (string, error)

// Safe turns a fallible backend into a memory tool: errors and panics are
// logged and become an empty answer.
func Safe(f Fallible, log logger.Logger) Func {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx context.Context, query string) (result string) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Warn("memory tool panicked", "panic", fmt.Sprint(rec))
				result = ""
			}
		}()
		out, err := f(ctx, query)
		if err != nil {
			log.Warn("memory tool failed", "error", err)
			return ""
		}
		return out
	}
}
