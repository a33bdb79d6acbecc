package tokenizer

// Tokenizer defines the minimal interface used by the CLI and the engine.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// EncodeOptions controls how special tokens are treated during encoding.
type EncodeOptions struct {
	// AddSpecial wraps the ids in BOS/EOS as configured by tokenizer_config.
	AddSpecial bool
	// ParseSpecial matches registered special strings in the text. When false
	// they are encoded as plain text.
	ParseSpecial bool
}
