package inference

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vizcayal/aha-moment/internal/decode"
	"github.com/vizcayal/aha-moment/internal/logger"
	"github.com/vizcayal/aha-moment/internal/memory"
	"github.com/vizcayal/aha-moment/internal/predictor"
	"github.com/vizcayal/aha-moment/internal/tokenizer"
)

const (
	PredictorToy    = "toy"
	PredictorRemote = "remote"
	PredictorScript = "script"
)

// PredictorConfig selects and configures the next-token predictor.
type PredictorConfig struct {
	Kind    string
	URL     string
	Timeout time.Duration
	Seed    int64
	Hidden  int
	// Script lists the ids replayed by the script predictor.
	Script []int
}

type Loader struct {
	TokenizerJSONPath   string
	TokenizerConfigPath string
	// EOSToken overrides the end-of-sequence token string.
	EOSToken  string
	Predictor PredictorConfig
	// MemoryDB is the SQLite file backing the memory tool. Empty means every
	// memory query is answered with nothing.
	MemoryDB string
	Logger   logger.Logger
}

type LoadResult struct {
	Engine *EngineImpl
	Codec  *tokenizer.Codec
	Store  *memory.Store
}

func (l Loader) Load() (*LoadResult, error) {
	log := l.Logger
	if log == nil {
		log = logger.Discard()
	}

	codec, err := l.loadCodec()
	if err != nil {
		return nil, err
	}
	pred, err := l.newPredictor(codec.VocabSize())
	if err != nil {
		return nil, err
	}

	var (
		tool    decode.MemoryTool = memory.Static{}
		store   *memory.Store
		closers []io.Closer
	)
	if l.MemoryDB != "" {
		store, err = memory.NewStore(l.MemoryDB, memory.WithLogger(log.With("component", "memory")))
		if err != nil {
			return nil, err
		}
		tool = store
		closers = append(closers, store)
	}

	engine, err := NewEngine(EngineConfig{
		Codec:     codec,
		Predictor: pred,
		Tool:      tool,
		Logger:    log,
		Closers:   closers,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	log.Debug("engine loaded",
		"predictor", l.predictorKind(),
		"vocab", codec.VocabSize(),
		"markers_added", codec.AddedMarkers(),
		"eos", codec.EOSID(),
	)
	return &LoadResult{Engine: engine, Codec: codec, Store: store}, nil
}

// LoadCodec loads only the tokenizer, for commands that do not decode.
func (l Loader) LoadCodec() (*tokenizer.Codec, error) { return l.loadCodec() }

func (l Loader) loadCodec() (*tokenizer.Codec, error) {
	if l.TokenizerJSONPath == "" {
		return nil, fmt.Errorf("tokenizer.json path is required")
	}
	tokJSON, err := os.ReadFile(l.TokenizerJSONPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer.json: %w", err)
	}
	var tokCfg []byte
	if l.TokenizerConfigPath != "" {
		tokCfg, err = os.ReadFile(l.TokenizerConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer_config.json: %w", err)
		}
	}
	tok, err := tokenizer.LoadHFTokenizerBytes(tokJSON, tokCfg)
	if err != nil {
		return nil, err
	}
	return tokenizer.NewCodec(tok, l.EOSToken)
}

func (l Loader) predictorKind() string {
	kind := strings.ToLower(strings.TrimSpace(l.Predictor.Kind))
	if kind == "" {
		return PredictorToy
	}
	return kind
}

func (l Loader) newPredictor(vocab int) (decode.Predictor, error) {
	cfg := l.Predictor
	switch kind := l.predictorKind(); kind {
	case PredictorToy:
		hidden := cfg.Hidden
		if hidden <= 0 {
			hidden = 16
		}
		return predictor.NewToy(vocab, hidden, cfg.Seed)
	case PredictorRemote:
		return predictor.NewRemote(predictor.RemoteConfig{
			URL:       cfg.URL,
			Timeout:   cfg.Timeout,
			VocabSize: vocab,
		})
	case PredictorScript:
		return predictor.NewScript(vocab, cfg.Script...)
	default:
		return nil, fmt.Errorf("unknown predictor %q (want %s, %s or %s)", kind, PredictorToy, PredictorRemote, PredictorScript)
	}
}
