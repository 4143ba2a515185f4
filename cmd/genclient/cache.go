package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillforge/genclient/internal/cache"
	"github.com/quillforge/genclient/internal/client"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}
	cmd.AddCommand(newCacheStatsCmd(configPath), newCacheClearCmd(configPath))
	return cmd
}

func newCacheStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache counters and stored size",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, *configPath)
			if err != nil {
				return err
			}
			defer store.Close(cmd.Context())

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fmt.Errorf("encode stats: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}

func newCacheClearCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, *configPath)
			if err != nil {
				return err
			}
			defer store.Close(cmd.Context())

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "cache cleared")
			return nil
		},
	}
}

// openStore builds the configured cache backend without going through a
// provider client, so cache maintenance works without API credentials.
func openStore(cmd *cobra.Command, configPath string) (cache.Store, error) {
	cfg, logger, err := setup(cmd.Context(), configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.Enabled {
		return nil, fmt.Errorf("cache is disabled in configuration")
	}
	return client.NewStore(cfg.Cache, logger)
}
