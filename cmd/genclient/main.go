package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/logging"
)

const envPrefix = "GENCLIENT"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "genclient",
		Short:         "Resilient text-generation client with a response cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "genclient.yaml", "path to the configuration file")

	root.AddCommand(
		newGenerateCmd(&configPath),
		newServeCmd(&configPath),
		newCacheCmd(&configPath),
		newProvidersCmd(&configPath),
		newVerifyCmd(&configPath),
	)
	return root
}

// setup loads and validates configuration, then builds the process logger.
func setup(ctx context.Context, configPath string) (config.Config, *slog.Logger, error) {
	loader := config.NewLoader(envPrefix, configPath)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
