package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/vizcayal/aha-moment/internal/api"
	"github.com/vizcayal/aha-moment/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := commonTokenizerFlags()
	flags = append(flags, commonPredictorFlags()...)
	flags = append(flags, memoryFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if err := applyModelConfig(cmd, loadedConfig); err != nil {
				return err
			}
			if loadedConfig.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = loadedConfig.ServerAddress
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

			service := api.NewGenerationService(loaded.Engine, genDefaults(loadedConfig))
			server := api.NewServer(api.NewGenerationStore(), service)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "predictor", predictorKind, "memory_db", memoryDB)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
