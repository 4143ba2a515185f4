package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillforge/genclient/internal/client"
	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/metrics"
	"github.com/quillforge/genclient/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve generation requests over HTTP with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			recorder := metrics.NewRecorder(nil)
			factory := client.NewFactory(&cfg, logger, recorder)

			// Every configured provider gets a client up front so credential
			// problems surface at startup, not on the first request.
			clients := make(map[string]server.Generator, len(cfg.Providers))
			for _, name := range cfg.ProviderNames() {
				c, err := factory.Create(name)
				if err != nil {
					return err
				}
				defer c.Close(ctx)
				clients[name] = c
			}

			handler := server.NewHandler(clients, recorder.Handler(), logger)
			srv, err := server.New(cfg.Server, logger, handler)
			if err != nil {
				return err
			}

			// The snapshot stays immutable for the process lifetime; the watch
			// only tells operators a restart is needed.
			loader := config.NewLoader(envPrefix, *configPath)
			watcher, err := loader.Watch(ctx, func() {
				logger.Warn("configuration file changed on disk, restart to apply", slog.String("path", *configPath))
			}, func(err error) {
				logger.Error("configuration watch error", slog.Any("error", err))
			})
			if err != nil {
				logger.Warn("configuration watching unavailable", slog.Any("error", err))
			} else {
				defer watcher.Stop()
			}

			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
