package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/logging"
)

func newVerifyCmd(configPath *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(envPrefix, *configPath)
			cfg, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "configuration valid: %d provider(s), cache enabled=%t\n",
				len(cfg.Providers), cfg.Cache.Enabled)

			if !watch {
				return nil
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher, err := loader.Watch(ctx, func() {
				if _, err := loader.Load(ctx); err != nil {
					logger.Error("configuration became invalid", slog.String("path", *configPath), slog.Any("error", err))
					return
				}
				logger.Info("configuration still valid", slog.String("path", *configPath))
			}, func(err error) {
				logger.Error("configuration watch error", slog.Any("error", err))
			})
			if err != nil {
				return err
			}
			defer watcher.Stop()

			logger.Info("watching configuration for changes", slog.String("path", *configPath))
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and revalidate on file changes")
	return cmd
}
