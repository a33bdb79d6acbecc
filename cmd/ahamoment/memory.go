package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/vizcayal/aha-moment/internal/logger"
	"github.com/vizcayal/aha-moment/internal/memory"
)

func memoryCmd() *cli.Command {
	var (
		limit   int64
		jsonOut bool
	)
	listFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.Int64Flag{
				Name:        "limit",
				Aliases:     []string{"l"},
				Usage:       "maximum entries to print",
				Value:       10,
				Destination: &limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print entries as JSON",
				Destination: &jsonOut,
			},
		}
	}

	return &cli.Command{
		Name:  "memory",
		Usage: "Manage the memory store consulted during generation",
		Flags: memoryFlags(),
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Store a memory",
				ArgsUsage: "<text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
					if text == "" {
						return errors.New("memory text is required")
					}
					return withStore(ctx, cmd, func(s *memory.Store) error {
						id, err := s.Add(ctx, text)
						if err != nil {
							return err
						}
						fmt.Println(id)
						return nil
					})
				},
			},
			{
				Name:      "search",
				Usage:     "Search memories by keyword",
				ArgsUsage: "<query>",
				Flags:     listFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					query := strings.Join(cmd.Args().Slice(), " ")
					if strings.TrimSpace(query) == "" {
						return errors.New("search query is required")
					}
					return withStore(ctx, cmd, func(s *memory.Store) error {
						entries, err := s.Search(ctx, query, int(limit))
						if err != nil {
							return err
						}
						return printEntries(entries, jsonOut)
					})
				},
			},
			{
				Name:  "recent",
				Usage: "List the most recent memories",
				Flags: listFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStore(ctx, cmd, func(s *memory.Store) error {
						entries, err := s.Recent(ctx, int(limit))
						if err != nil {
							return err
						}
						return printEntries(entries, jsonOut)
					})
				},
			},
		},
	}
}

func withStore(ctx context.Context, cmd *cli.Command, fn func(*memory.Store) error) error {
	applyMemoryConfig(cmd, loadedConfig)
	if memoryDB == "" {
		return errors.New("--memory-db is required")
	}
	log := logger.FromContext(ctx).With("component", "memory")
	store, err := memory.NewStore(memoryDB, memory.WithLogger(log))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printEntries(entries []memory.Entry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []memory.Entry{}
		}
		return writeJSON(os.Stdout, entries)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Content)
	}
	return tw.Flush()
}
