// Package cmd defines the CLI for the patent extraction service.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/config"
	"github.com/JakeFAU/patent-crawler/internal/logging"
)

// envKeyType is the key for storing the env in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "patentcrawler",
		Short: "Extracts structured patent records from a patent search site.",
		Long: `patentcrawler searches a patent site for a free-text query, visits each
result's detail page and returns structured records. It runs either as an
HTTP API (serve) or as a one-shot extraction (extract).`,
		SilenceUsage: true,

		// Config and logging are ready before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey).(*env); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExtractCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	rt, ok := ctx.Value(envKey).(*env)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
