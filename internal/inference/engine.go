package inference

import "time"

type Stats struct {
	TokensGenerated int
	PredictorCalls  int
	ToolCalls       int
	Duration        time.Duration
	TPS             float64
}

func newStats(generated, calls, toolCalls int, elapsed time.Duration) Stats {
	s := Stats{
		TokensGenerated: generated,
		PredictorCalls:  calls,
		ToolCalls:       toolCalls,
		Duration:        elapsed,
	}
	if elapsed.Seconds() > 0 {
		s.TPS = float64(generated) / elapsed.Seconds()
	}
	return s
}
