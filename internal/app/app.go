// Package app builds the long-lived services a command needs from Config and
// releases them when the command finishes.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/config"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/extract/selector"
	collyfetcher "github.com/JakeFAU/tcg-catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/tcg-catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/fetcher/promote"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/logging"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/tcg-catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/tcg-catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/publisher/zaplog"
	gcsstorage "github.com/JakeFAU/tcg-catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/tcg-catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/tcg-catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/tcg-catalog-crawler/internal/storage/postgres"
)

// App contains one command's dependencies.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	RunID     string
	Store     catalog.Store
	Blobs     catalog.BlobStore
	Publisher catalog.Publisher

	limiter  *ratelimit.Limiter
	recorder metrics.Recorder
	fetcher  *collyfetcher.Fetcher
	headless *headlessfetcher.Fetcher
	closers  []func() error
}

// Build creates the logger, store, archive and publisher named by cfg.
// command tags every log line along with a fresh run id.
func Build(ctx context.Context, cfg config.Config, command string) (*App, error) {
	base, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	runID := uuid.New().MustRunID()
	a := &App{
		Config:   cfg,
		Logger:   logging.ForRun(base, runID, command),
		RunID:    runID,
		limiter:  ratelimit.New(cfg.RateLimit()),
		recorder: metrics.NewRecorder(),
	}

	if err := a.setupStore(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.setupArchive(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, a.abort(err)
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		Headers:       cfg.FetchHeaders(),
	}, a.Logger.Named("fetcher"))
	return a, nil
}

// NewWithStore builds an App around an existing store. Commands use it in
// tests; nothing is pushed or published.
func NewWithStore(cfg config.Config, store catalog.Store, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config:   cfg,
		Logger:   logger,
		RunID:    "test",
		Store:    store,
		limiter:  ratelimit.New(cfg.RateLimit()),
		recorder: metrics.NewRecorder(),
		fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.FetchTimeout(),
			Headers:   cfg.FetchHeaders(),
		}, logger),
	}
}

func (a *App) abort(err error) error {
	if cerr := a.closeResources(); cerr != nil {
		a.Logger.Warn("cleanup after failed build", zap.Error(cerr))
	}
	return err
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.Config.DB.Driver {
	case config.DriverMemory:
		a.Logger.Info("using in-memory store")
		a.Store = memorystorage.NewStore()
	default:
		if a.Config.DB.MigrateOnStart {
			if err := pgstore.RunMigrations(a.Config.DB.DSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("migrations applied")
		}
		store, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:             a.Config.DB.DSN,
			MaxConns:        a.Config.DB.MaxConns,
			MinConns:        a.Config.DB.MinConns,
			MaxConnLifetime: a.Config.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("store init failed: %w", err)
		}
		a.Store = store
	}
	a.closers = append(a.closers, func() error { a.Store.Close(); return nil })
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.Config.Archive.Provider {
	case config.ProviderLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.Config.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.Blobs = blobs
		a.Logger.Debug("local archive", zap.String("path", a.Config.Archive.BaseDir))
	case config.ProviderGCS:
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:       a.Config.Archive.Bucket,
			SkipExisting: a.Config.Archive.SkipExisting,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.Blobs = blobs
		a.closers = append(a.closers, blobs.Close)
		a.Logger.Debug("gcs archive", zap.String("bucket", a.Config.Archive.Bucket))
	default:
		a.Logger.Debug("raw page archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.Config.Notify.Provider {
	case config.ProviderPubSub:
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: a.Config.Notify.ProjectID})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		a.Logger.Info("pubsub publisher initialized",
			zap.String("project", a.Config.Notify.ProjectID),
			zap.String("topic", a.Config.Notify.Topic),
		)
	case config.ProviderLog:
		a.Publisher = zaplog.New(a.Logger.Named("events"))
	default:
		if a.Config.DB.Driver == config.DriverMemory {
			a.Publisher = memorypublisher.New()
		}
	}
	return nil
}

// Options returns the pipeline collaborators shared by every stage.
func (a *App) Options() pipeline.Options {
	return pipeline.Options{
		Logger:   a.Logger,
		Recorder: a.recorder,
		Pacer:    a.limiter,
		Clock:    system.New(),
	}
}

// Archive returns the raw page archive, or nil when archiving is disabled.
func (a *App) Archive() *pipeline.Archive {
	if a.Blobs == nil {
		return nil
	}
	return &pipeline.Archive{Blobs: a.Blobs, Hasher: sha256.New(), Prefix: a.Config.Archive.Prefix}
}

// Source resolves a configured source and the fetcher it should use.
func (a *App) Source(name string) (*selector.Source, catalog.PageFetcher, error) {
	src, err := a.Config.Source(name)
	if err != nil {
		return nil, nil, err
	}
	fetcher, err := a.Fetcher(src.Headless())
	if err != nil {
		return nil, nil, err
	}
	return src, fetcher, nil
}

// Fetcher returns the HTTP fetcher, or the browser fetcher when headless is set.
// With fetch.promote_headless the HTTP fetcher falls back to the browser for
// pages that only render client side.
func (a *App) Fetcher(headless bool) (catalog.PageFetcher, error) {
	if !headless {
		if a.Config.Fetch.PromoteHeadless {
			return promote.New(a.fetcher, func() (catalog.PageFetcher, error) { return a.Fetcher(true) },
				promote.NewHeuristic(a.Config.Fetch.PromoteThreshold), a.Logger.Named("promote")), nil
		}
		return a.fetcher, nil
	}
	if a.headless == nil {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.Config.Fetch.HeadlessMaxParallel,
			UserAgent:         a.Config.Fetch.UserAgent,
			NavigationTimeout: a.Config.NavTimeout(),
			Headers:           a.Config.Fetch.Headers,
			WaitSelector:      a.Config.Fetch.HeadlessWaitSelector,
			ScrollToBottom:    a.Config.Fetch.HeadlessScroll,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = f
		a.closers = append(a.closers, func() error { f.Close(); return nil })
	}
	return a.headless, nil
}

// Driver wires a pipeline driver over the app's store and publisher.
func (a *App) Driver(fetcher catalog.PageFetcher) *pipeline.Driver {
	return pipeline.NewDriver(a.Store, fetcher, a.Publisher, pipeline.DriverConfig{
		Drain: pipeline.DrainConfig{MaxItems: a.Config.Drain.MaxItems, Archive: a.Archive()},
		Topic: a.Config.Notify.Topic,
	}, a.Options())
}

// Close pushes metrics when a gateway is configured, then releases every
// resource in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Config.Metrics.PushURL != "" {
		if err := metrics.Push(ctx, a.Config.Metrics.PushURL, a.Config.Metrics.Job); err != nil {
			a.Logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
