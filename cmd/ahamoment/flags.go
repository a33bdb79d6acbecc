package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

var (
	configFile        string
	tokenizerJSONPath string
	tokenizerConfig   string
	eosToken          string
	predictorKind     string
	predictorURL      string
	predictorTimeout  time.Duration
	toySeed           int64
	toyHidden         int64
	scriptIDs         string
	memoryDB          string
	maxNewTokens      int64
	maxLength         int64
	logLevel          string
	logFormat         string
	debug             bool
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/aha-moment/config.yaml)",
		Destination: &configFile,
	}
}

func commonTokenizerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Aliases:     []string{"t"},
			Usage:       "path to tokenizer.json",
			Destination: &tokenizerJSONPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
		&cli.StringFlag{
			Name:        "eos-token",
			Usage:       "override the end-of-sequence token string",
			Destination: &eosToken,
		},
	}
}

func commonPredictorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "predictor",
			Aliases:     []string{"p"},
			Usage:       "next-token predictor (toy, remote, script)",
			Value:       "toy",
			Destination: &predictorKind,
		},
		&cli.StringFlag{
			Name:        "predictor-url",
			Usage:       "logits endpoint for the remote predictor",
			Destination: &predictorURL,
		},
		&cli.DurationFlag{
			Name:        "predictor-timeout",
			Usage:       "timeout for one remote prediction",
			Value:       30 * time.Second,
			Destination: &predictorTimeout,
		},
		&cli.Int64Flag{
			Name:        "toy-seed",
			Usage:       "weight seed for the toy predictor",
			Value:       1,
			Destination: &toySeed,
		},
		&cli.Int64Flag{
			Name:        "toy-hidden",
			Usage:       "hidden size of the toy predictor",
			Value:       16,
			Destination: &toyHidden,
		},
		&cli.StringFlag{
			Name:        "script",
			Usage:       "comma separated ids replayed by the script predictor",
			Destination: &scriptIDs,
		},
	}
}

func memoryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory-db",
			Usage:       "SQLite file backing the memory tool",
			Destination: &memoryDB,
		},
	}
}

func boundFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-new-tokens",
			Aliases:     []string{"n"},
			Usage:       "positions that may be consumed after the prompt",
			Destination: &maxNewTokens,
		},
		&cli.Int64Flag{
			Name:        "max-length",
			Usage:       "absolute sequence length ceiling (exclusive with --max-new-tokens)",
			Destination: &maxLength,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// parseIDs parses a comma or space separated id list.
func parseIDs(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
