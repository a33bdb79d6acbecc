package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

type tokenView struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

func tokenizeCmd() *cli.Command {
	var (
		decodeIDs bool
		literal   bool
		jsonOut   bool
	)

	flags := commonTokenizerFlags()
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "decode",
			Aliases:     []string{"d"},
			Usage:       "treat the argument as comma separated ids and decode them",
			Destination: &decodeIDs,
		},
		&cli.BoolFlag{
			Name:        "literal",
			Usage:       "encode like tool output: no BOS/EOS and no special token parsing",
			Destination: &literal,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print ids with their vocabulary entries as JSON",
			Destination: &jsonOut,
		},
	)

	return &cli.Command{
		Name:      "tokenize",
		Usage:     "Encode text or decode ids with the configured tokenizer",
		ArgsUsage: "<text|ids>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := applyModelConfig(cmd, loadedConfig); err != nil {
				return err
			}
			input := strings.Join(cmd.Args().Slice(), " ")
			if input == "" {
				return errors.New("input is required")
			}
			loader, err := newLoader(ctx)
			if err != nil {
				return err
			}
			codec, err := loader.LoadCodec()
			if err != nil {
				return err
			}

			if decodeIDs {
				ids, err := parseIDs(input)
				if err != nil {
					return err
				}
				text, err := codec.Decode(ids)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			}

			var ids []int
			if literal {
				ids, err = codec.Encode(input)
			} else {
				ids, _, err = codec.Prompt(input)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				views := make([]tokenView, len(ids))
				for i, id := range ids {
					views[i] = tokenView{ID: id, Token: codec.TokenString(id)}
				}
				return writeJSON(os.Stdout, views)
			}
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprint(id)
			}
			fmt.Println(strings.Join(parts, ","))
			return nil
		},
	}
}
