package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/config"
	"github.com/JakeFAU/repo-harvester/internal/metrics"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one harvest.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvests repositories until the target count is reached",
		Long: `Runs one crawl: fetches search pages in cursor order, upserts each page
in a single transaction and stops when the target count is reached or the
search has no more results. SIGINT or SIGTERM stops the crawl after the
current request; --resume continues from the last persisted cursor.`,
		RunE: withSession(runCrawlCommand),
	}
	cmd.Flags().Int("target", 0, "number of repositories to harvest (overrides crawler.target_count)")
	cmd.Flags().String("query", "", "GitHub search filter (overrides github.query)")
	cmd.Flags().Bool("resume", false, "continue from the last checkpoint for the query")
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /healthz on this address (overrides metrics.addr)")
	return cmd
}

// applyCrawlFlags folds explicitly set crawl flags into cfg before services
// are built, so the GraphQL client sees the final query.
func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := false
	if flags.Lookup("target") != nil && flags.Changed("target") {
		target, err := flags.GetInt("target")
		if err != nil {
			return err
		}
		cfg.Crawler.TargetCount = target
		changed = true
	}
	if flags.Lookup("query") != nil && flags.Changed("query") {
		query, err := flags.GetString("query")
		if err != nil {
			return err
		}
		cfg.GitHub.Query = query
		changed = true
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		addr, err := flags.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.Metrics.Addr = addr
	}
	if changed {
		return cfg.Validate()
	}
	return nil
}

func runCrawlCommand(cmd *cobra.Command, s *session) error {
	logger := s.app.Logger()

	resume, err := cmd.Flags().GetBool("resume")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := s.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger.Named("metrics")); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	runner, err := s.app.NewRunner(s.cfg.HarvestOptions())
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	run, err := runner.Run(ctx, resume)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl %s: %w", run.Status, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s %s (%s): %d repositories in %d pages\n",
		run.ID, run.Status, run.Reason, run.Total, run.Pages)
	return nil
}
