package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/vizcayal/aha-moment/internal/inference"
	"github.com/vizcayal/aha-moment/internal/logger"
)

// Config represents the configuration file (~/.config/aha-moment/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	TokenizerJSON   string `yaml:"tokenizer_json"`
	TokenizerConfig string `yaml:"tokenizer_config"`
	EOSToken        string `yaml:"eos_token"`

	// Predictor
	Predictor        string `yaml:"predictor"`
	PredictorURL     string `yaml:"predictor_url"`
	PredictorTimeout string `yaml:"predictor_timeout"`
	ToySeed          *int64 `yaml:"toy_seed"`
	ToyHidden        *int64 `yaml:"toy_hidden"`

	MemoryDB string `yaml:"memory_db"`

	// Length bound defaults
	MaxNewTokens *int64 `yaml:"max_new_tokens"`
	MaxLength    *int64 `yaml:"max_length"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// loadedConfig is populated before any command runs.
var loadedConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "aha-moment", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyModelConfig applies config file defaults to tokenizer, predictor and
// memory variables when the corresponding flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) error {
	if cfg.TokenizerJSON != "" && !c.IsSet("tokenizer-json") {
		tokenizerJSONPath = cfg.TokenizerJSON
	}
	if cfg.TokenizerConfig != "" && !c.IsSet("tokenizer-config") {
		tokenizerConfig = cfg.TokenizerConfig
	}
	if cfg.EOSToken != "" && !c.IsSet("eos-token") {
		eosToken = cfg.EOSToken
	}
	if cfg.Predictor != "" && !c.IsSet("predictor") {
		predictorKind = cfg.Predictor
	}
	if cfg.PredictorURL != "" && !c.IsSet("predictor-url") {
		predictorURL = cfg.PredictorURL
	}
	if cfg.PredictorTimeout != "" && !c.IsSet("predictor-timeout") {
		d, err := time.ParseDuration(cfg.PredictorTimeout)
		if err != nil {
			return fmt.Errorf("config predictor_timeout: %w", err)
		}
		predictorTimeout = d
	}
	if cfg.ToySeed != nil && !c.IsSet("toy-seed") {
		toySeed = *cfg.ToySeed
	}
	if cfg.ToyHidden != nil && !c.IsSet("toy-hidden") {
		toyHidden = *cfg.ToyHidden
	}
	applyMemoryConfig(c, cfg)
	return nil
}

func applyMemoryConfig(c *cli.Command, cfg Config) {
	if cfg.MemoryDB != "" && !c.IsSet("memory-db") {
		memoryDB = cfg.MemoryDB
	}
}

// boundOptions returns the bound flags that were explicitly set.
func boundOptions(c *cli.Command) (maxNew, maxLen *int) {
	if c.IsSet("max-new-tokens") {
		v := int(maxNewTokens)
		maxNew = &v
	}
	if c.IsSet("max-length") {
		v := int(maxLength)
		maxLen = &v
	}
	return maxNew, maxLen
}

// genDefaults converts the config file bound into request defaults.
func genDefaults(cfg Config) inference.GenDefaults {
	var d inference.GenDefaults
	if cfg.MaxNewTokens != nil {
		v := int(*cfg.MaxNewTokens)
		d.MaxNewTokens = &v
	}
	if cfg.MaxLength != nil {
		v := int(*cfg.MaxLength)
		d.MaxLength = &v
	}
	return d
}

func newLoader(ctx context.Context) (inference.Loader, error) {
	script, err := parseIDs(scriptIDs)
	if err != nil {
		return inference.Loader{}, fmt.Errorf("--script: %w", err)
	}
	return inference.Loader{
		TokenizerJSONPath:   tokenizerJSONPath,
		TokenizerConfigPath: tokenizerConfig,
		EOSToken:            eosToken,
		Predictor: inference.PredictorConfig{
			Kind:    predictorKind,
			URL:     predictorURL,
			Timeout: predictorTimeout,
			Seed:    toySeed,
			Hidden:  int(toyHidden),
			Script:  script,
		},
		MemoryDB: memoryDB,
		Logger:   logger.FromContext(ctx),
	}, nil
}
