package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/patent-crawler/internal/app"
)

// buildApp is the application factory; tests replace it.
var buildApp = app.Build

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the patent extraction HTTP API",
		Long: `Starts the HTTP API. Extraction requests are queued and run one at a
time; results are kept under their session key in the configured store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, e.logger, app.Options{})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
