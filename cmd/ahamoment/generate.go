package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/vizcayal/aha-moment/internal/inference"
	"github.com/vizcayal/aha-moment/internal/logger"
)

func generateCmd() *cli.Command {
	var (
		prompt   string
		tokens   string
		mask     string
		echo     bool
		jsonOut  bool
		quietOut bool
	)

	flags := commonTokenizerFlags()
	flags = append(flags, commonPredictorFlags()...)
	flags = append(flags, memoryFlags()...)
	flags = append(flags, boundFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Usage:       "prompt text (default: arguments, then stdin)",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "tokens",
			Usage:       "comma separated prompt ids, used instead of prompt text",
			Destination: &tokens,
		},
		&cli.StringFlag{
			Name:        "mask",
			Usage:       "comma separated attention mask for --tokens (default: all ones)",
			Destination: &mask,
		},
		&cli.BoolFlag{
			Name:        "echo",
			Usage:       "print the prompt before the completion",
			Destination: &echo,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the full result as JSON",
			Destination: &jsonOut,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "do not stream the completion",
			Destination: &quietOut,
		},
	)

	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Generate a completion, consulting the memory tool when the model asks",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if err := applyModelConfig(cmd, loadedConfig); err != nil {
				return err
			}

			opts := inference.RequestOptions{EchoPrompt: &echo}
			opts.MaxNewTokens, opts.MaxLength = boundOptions(cmd)
			if tokens != "" {
				ids, err := parseIDs(tokens)
				if err != nil {
					return fmt.Errorf("--tokens: %w", err)
				}
				opts.Tokens = ids
				if mask != "" {
					if opts.Mask, err = parseIDs(mask); err != nil {
						return fmt.Errorf("--mask: %w", err)
					}
				}
			} else {
				text, err := resolvePrompt(prompt, cmd.Args().Slice(), os.Stdin)
				if err != nil {
					return err
				}
				opts.Prompt = text
			}

			req, err := inference.ResolveRequest(opts, genDefaults(loadedConfig))
			if err != nil {
				return err
			}

			loader, err := newLoader(ctx)
			if err != nil {
				return err
			}
			loaded, err := loader.Load()
			if err != nil {
				return err
			}
			defer loaded.Engine.Close()

			mode := StreamInstant
			if jsonOut || quietOut {
				mode = StreamQuiet
			}
			out := NewStreamWriter(mode, os.Stdout)
			res, genErr := loaded.Engine.Generate(ctx, &req, out.Write)
			out.Flush()
			if res == nil {
				return genErr
			}

			for _, call := range res.ToolCalls {
				log.Debug("memory tool call", "query", call.Query, "result", call.Result, "degraded", call.Degraded)
			}
			log.Info("generation finished",
				"stop", string(res.Stop),
				"bound", req.Bound.String(),
				"tokens", res.Stats.TokensGenerated,
				"tool_calls", res.Stats.ToolCalls,
				"predictor_calls", res.Stats.PredictorCalls,
				"tps", fmt.Sprintf("%.2f", res.Stats.TPS),
			)

			if jsonOut {
				if err := writeJSON(os.Stdout, res); err != nil {
					return err
				}
			} else if quietOut {
				fmt.Println(res.Text)
			}
			return genErr
		},
	}
}

// resolvePrompt picks the prompt from the flag, then the arguments, then a
// piped stdin.
func resolvePrompt(flag string, args []string, stdin io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && isTerminal(f.Fd()) {
		return "", fmt.Errorf("a prompt is required (argument, --prompt, --tokens or stdin)")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	if text == "" {
		return "", fmt.Errorf("a prompt is required (argument, --prompt, --tokens or stdin)")
	}
	return text, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
