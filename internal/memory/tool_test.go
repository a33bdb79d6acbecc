package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vizcayal/aha-moment/internal/logger"
)

func TestStatic(t *testing.T) {
	t.Parallel()
	tool := Static{"capital": "Paris"}
	ctx := context.Background()

	if got := tool.Query(ctx, " capital\n"); got != "Paris" {
		t.Fatalf("unexpected answer %q", got)
	}
	if got := tool.Query(ctx, "unknown"); got != "" {
		t.Fatalf("expected empty answer, got %q", got)
	}
}

func TestFunc(t *testing.T) {
	t.Parallel()
	tool := Func(func(_ context.Context, q string) string { return "<" + q + ">" })
	if got := tool.Query(context.Background(), "x"); got != "<x>" {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestSafe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		f    Fallible
		want string
	}{
		{
			name: "ok",
			f:    func(context.Context, string) (string, error) { return "fact", nil },
			want: "fact",
		},
		{
			name: "error",
			f:    func(context.Context, string) (string, error) { return "partial", errors.New("boom") },
			want: "",
		},
		{
			name: "panic",
			f:    func(context.Context, string) (string, error) { panic("boom") },
			want: "",
		},
	}
	for _, tc := range cases {
		tool := Safe(tc.f, logger.Discard())
		if got := tool.Query(context.Background(), "q"); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
