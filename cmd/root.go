// Package cmd defines the CLI commands for the repo-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/app"
	"github.com/JakeFAU/repo-harvester/internal/config"
	"github.com/JakeFAU/repo-harvester/internal/harvest"
	"github.com/JakeFAU/repo-harvester/internal/logging"
)

var cfgFile string

// sessionKeyType is the key for storing the session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// App defines the services commands use. Tests inject a fake through newApp.
type App interface {
	Close() error
	Logger() *zap.Logger
	Runs() harvest.RunStore
	NewRunner(opts harvest.Options) (*harvest.Runner, error)
}

// session bundles what PersistentPreRunE built for the subcommand.
type session struct {
	cfg config.Config
	app App
}

// loadConfig and newApp are variables so tests can replace them.
var (
	loadConfig = config.Load
	newApp     = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.New(ctx, cfg, logger)
	}
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo-harvester",
		Short: "Harvests GitHub repository metadata into Postgres.",
		Long: `repo-harvester pages through GitHub's GraphQL repository search and
upserts every result into Postgres. It follows the search cursor, waits out
the rate-limit window when the quota runs low, retries transient failures
without skipping pages, and can resume an interrupted crawl.`,
		SilenceUsage: true,

		// Builds the config, logger and services before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			if err := applyCrawlFlags(cmd, &cfg); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, app: appInstance}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newRunsCmd())

	return cmd
}

// withSession adapts a subcommand body to cobra's RunE. The services are
// closed when the body returns, including on error, since cobra skips the
// post-run hooks after a failed RunE.
func withSession(run func(cmd *cobra.Command, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		s, err := resolveSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()
		return run(cmd, s)
	}
}

func (s *session) close() {
	logger := s.app.Logger()
	if err := s.app.Close(); err != nil {
		logger.Warn("Error closing application services", zap.Error(err))
	}
	_ = logger.Sync()
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
