// Package app wires configuration into long-lived services, acting as the
// dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-harvester/internal/archive"
	"github.com/JakeFAU/repo-harvester/internal/clock/system"
	"github.com/JakeFAU/repo-harvester/internal/config"
	"github.com/JakeFAU/repo-harvester/internal/github"
	"github.com/JakeFAU/repo-harvester/internal/harvest"
	"github.com/JakeFAU/repo-harvester/internal/id/uuid"
	pubmemory "github.com/JakeFAU/repo-harvester/internal/publisher/memory"
	"github.com/JakeFAU/repo-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/repo-harvester/internal/storage/gcs"
	"github.com/JakeFAU/repo-harvester/internal/storage/local"
	"github.com/JakeFAU/repo-harvester/internal/storage/memory"
	"github.com/JakeFAU/repo-harvester/internal/storage/postgres"
	"github.com/JakeFAU/repo-harvester/internal/telemetry"
)

// App holds the shared services built from one Config.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	fetcher     harvest.Fetcher
	persister   harvest.Persister
	checkpoints harvest.CheckpointStore
	runs        harvest.RunStore
	publisher   harvest.Publisher

	closers []func() error
}

// New builds every service named by cfg. On error, anything already opened
// is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.Warn("Error closing partially initialized services", zap.Error(cerr))
			}
		}
	}()

	logger.Info("Initializing application services")

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Logger:      logger.Named("trace"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return tp.Shutdown(context.Background())
		})
	}
	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}

	a.fetcher, err = github.New(ctx, github.Config{
		Token:     cfg.GitHub.Token,
		Endpoint:  cfg.GitHub.Endpoint,
		Query:     cfg.GitHub.Query,
		UserAgent: cfg.GitHub.UserAgent,
		Timeout:   cfg.GitHub.Timeout,

		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Burst:             cfg.GitHub.Burst,
	}, logger.Named("github"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize github client: %w", err)
	}

	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Provider {
	case config.ProviderMemory:
		a.logger.Info("Using in-memory stores; data is discarded on exit")
		a.persister = memory.NewRepositoryStore(a.clock.Now)
		a.checkpoints = memory.NewCheckpointStore()
		a.runs = memory.NewRunStore()
		return nil
	case config.ProviderPostgres:
	default:
		return fmt.Errorf("unknown database provider: %s", db.Provider)
	}

	a.logger.Info("Connecting to PostgreSQL")
	pool, err := postgres.Open(ctx, postgres.Config{
		URL:             db.URL,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	tables := postgres.Tables{
		Repositories: db.RepositoryTable,
		Checkpoints:  db.CheckpointTable,
		Runs:         db.RunTable,
	}
	if db.VerifySchema {
		if err := postgres.VerifySchema(ctx, pool, tables); err != nil {
			return err
		}
	}

	if a.persister, err = postgres.NewRepositoryStore(pool, tables.Repositories, a.clock.Now); err != nil {
		return err
	}
	if a.checkpoints, err = postgres.NewCheckpointStore(pool, tables.Checkpoints); err != nil {
		return err
	}
	if a.runs, err = postgres.NewRunStore(pool, tables.Runs); err != nil {
		return err
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	var blobs archive.BlobStore
	ac := a.cfg.Archive
	switch ac.Provider {
	case config.ProviderNone, "":
		return nil
	case config.ProviderMemory:
		blobs = memory.NewBlobStore()
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return fmt.Errorf("failed to initialize local archive: %w", err)
		}
		blobs = store
	case config.ProviderGCS:
		store, err := gcs.New(ctx, gcs.Config{Bucket: ac.Bucket})
		if err != nil {
			return fmt.Errorf("failed to initialize gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
	default:
		return fmt.Errorf("unknown archive provider: %s", ac.Provider)
	}
	a.logger.Info("Archiving raw pages", zap.String("provider", ac.Provider), zap.String("prefix", ac.Prefix))
	a.persister = archive.New(a.persister, blobs, ac.Prefix, a.clock.Now, a.logger.Named("archive"))
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	nc := a.cfg.Notify
	switch nc.Provider {
	case config.ProviderNone, "":
		return nil
	case config.ProviderMemory:
		a.publisher = pubmemory.New()
		return nil
	case config.ProviderPubSub:
		pub, err := pubsub.New(ctx, nc.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
		a.logger.Info("Publishing run summaries", zap.String("topic", nc.Topic))
		return nil
	default:
		return fmt.Errorf("unknown notify provider: %s", nc.Provider)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runs exposes the run history store.
func (a *App) Runs() harvest.RunStore {
	return a.runs
}

// Publisher returns the configured notification publisher, or nil.
func (a *App) Publisher() harvest.Publisher {
	return a.publisher
}

// NewRunner builds an engine and runner for opts. The options usually come
// from Config.HarvestOptions with command-line overrides applied.
func (a *App) NewRunner(opts harvest.Options) (*harvest.Runner, error) {
	engine, err := harvest.NewEngine(
		opts,
		a.fetcher,
		a.persister,
		a.checkpoints,
		a.clock,
		a.clock,
		a.logger.Named("engine"),
	)
	if err != nil {
		return nil, err
	}
	return harvest.NewRunner(
		engine,
		a.runs,
		a.checkpoints,
		a.publisher,
		a.cfg.Notify.Topic,
		uuid.New(),
		a.clock,
		a.logger.Named("runner"),
	), nil
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
