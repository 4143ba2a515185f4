package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillforge/genclient/internal/client"
	"github.com/quillforge/genclient/internal/gen"
	"github.com/quillforge/genclient/internal/metrics"
)

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		provider         string
		prompt           string
		system           string
		maxTokens        int
		temperature      float64
		topP             float64
		frequencyPenalty float64
		presencePenalty  float64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Send one generation request and print the response envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}

			spec := gen.RequestSpec{
				Prompt: prompt,
				System: system,
			}
			// Provider defaults fill whatever the caller left unset; the spec
			// handed to the client is always fully explicit.
			providerCfg, ok := cfg.Providers[provider]
			if ok {
				spec.Model = providerCfg.Model
				spec.MaxTokens = providerCfg.MaxTokens
				if providerCfg.Temperature != nil {
					spec.Temperature = *providerCfg.Temperature
				}
			}
			if cmd.Flags().Changed("max-tokens") {
				spec.MaxTokens = maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				spec.Temperature = temperature
			}
			if cmd.Flags().Changed("top-p") {
				spec.TopP = &topP
			}
			if cmd.Flags().Changed("frequency-penalty") {
				spec.FrequencyPenalty = &frequencyPenalty
			}
			if cmd.Flags().Changed("presence-penalty") {
				spec.PresencePenalty = &presencePenalty
			}

			factory := client.NewFactory(&cfg, logger, metrics.NewRecorder(nil))
			c, err := factory.Create(provider)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			envelope, err := c.Generate(ctx, spec)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(envelope, "", "  ")
			if err != nil {
				return fmt.Errorf("encode envelope: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(out))

			if !envelope.Success {
				return fmt.Errorf("generation failed: %s", envelope.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "configured provider name")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.Flags().StringVar(&system, "system", "", "optional system instruction")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget (defaults to the provider's)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature (defaults to the provider's)")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "nucleus sampling parameter")
	cmd.Flags().Float64Var(&frequencyPenalty, "frequency-penalty", 0, "frequency penalty")
	cmd.Flags().Float64Var(&presencePenalty, "presence-penalty", 0, "presence penalty")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}
