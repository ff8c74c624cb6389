package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/patent-crawler/internal/api"
	"github.com/JakeFAU/patent-crawler/internal/app"
	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	"github.com/JakeFAU/patent-crawler/internal/storage"
)

type extractOutput struct {
	SessionID string                 `json:"session_id,omitempty"`
	Count     int                    `json:"count"`
	Patents   []crawler.PatentRecord `json:"patents"`
	Events    []api.EventView        `json:"events"`
}

func newExtractCmd() *cobra.Command {
	var (
		query      string
		maxResults int
		session    string
		mode       string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction and print the records as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			runCfg := crawler.RunConfig{Query: query, MaxResults: e.cfg.Crawler.MaxResultsDefault}
			if cmd.Flags().Changed("max") {
				runCfg.MaxResults = maxResults
			}
			if session != "" {
				if err := storage.ValidateKey(session); err != nil {
					return err
				}
			}
			if mode != "" {
				if runCfg.FetchMode, err = crawler.ParseFetchMode(mode); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, e.cfg, e.logger, app.Options{})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}()

			rec := progress.NewRecorder()
			records := a.Engine().Run(ctx, runCfg, session, rec)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(extractOutput{
				SessionID: session,
				Count:     len(records),
				Patents:   records,
				Events:    api.EventViews(rec.Events()),
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "free-text patent search query")
	cmd.Flags().IntVarP(&maxResults, "max", "n", 0, "maximum records (defaults to crawler.max_results_default)")
	cmd.Flags().StringVar(&session, "session", "", "store results under this session key")
	cmd.Flags().StringVar(&mode, "mode", "", "fetch mode: auto, browser or http")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
