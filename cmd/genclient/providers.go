package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProvidersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if len(cfg.Providers) == 0 {
				fmt.Fprintln(os.Stdout, "no providers configured")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODEL\tBASE URL\tKEY ENV\tRETRIES")
			for _, name := range cfg.ProviderNames() {
				p := cfg.Providers[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					name, p.Model, p.BaseURL, p.APIKeyEnv, p.MaxRetries)
			}
			return tw.Flush()
		},
	}
}
