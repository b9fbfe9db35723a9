package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dotcommander/refiner/internal/background"
	"github.com/dotcommander/refiner/internal/config"
	"github.com/dotcommander/refiner/internal/core"
	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
	"github.com/dotcommander/refiner/internal/provider"
	"github.com/dotcommander/refiner/internal/storage"
	"github.com/dotcommander/refiner/internal/vocab"
)

// application is the refinement stack assembled from config
type application struct {
	cfg         *config.Config
	logger      *slog.Logger
	parser      *instruction.Parser
	store       domain.ChainStore
	backgrounds *background.Manager
	refiner     *core.Refiner
	registry    *prometheus.Registry
	closers     []func() error
}

func (c *cli) newApp(ctx context.Context) (*application, error) {
	app := &application{
		cfg:      c.cfg,
		logger:   c.logger,
		registry: prometheus.NewRegistry(),
	}

	cat, err := vocab.Load(c.cfg.Vocabulary.Path)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}
	app.parser = instruction.NewParser(
		instruction.WithCatalog(cat),
		instruction.WithLogger(c.logger.With("component", "parser")),
	)

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	opts := []background.Option{
		background.WithCapacity(c.cfg.Registry.MaxChains),
		background.WithTTL(c.cfg.Registry.TTL),
		background.WithInferFromPrior(c.cfg.Registry.InferFromPrior),
		background.WithParser(app.parser),
		background.WithLogger(c.logger.With("component", "background_manager")),
	}
	if app.store != nil {
		opts = append(opts, background.WithStore(app.store))
	}
	app.backgrounds, err = background.NewManager(opts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("creating background manager: %w", err)
	}

	app.refiner = core.New(app.backgrounds,
		core.WithParser(app.parser),
		core.WithMetrics(core.NewMetrics(app.registry)),
		core.WithRetryWindow(c.cfg.Registry.RetryWindow),
		core.WithLogger(c.logger.With("component", "refiner")),
	)
	app.closers = append(app.closers, func() error {
		app.refiner.Close()
		return nil
	})
	return app, nil
}

func (a *application) openStore(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Driver {
	case "memory":
		return nil
	case "file":
		store, err := storage.NewFileStore(sc.Dir)
		if err != nil {
			return fmt.Errorf("opening file store: %w", err)
		}
		a.store = store
	case "sqlite", "postgres":
		driver := storage.DriverSQLite
		if sc.Driver == "postgres" {
			driver = storage.DriverPostgres
		}
		store, err := storage.NewSQLStore(ctx, driver, sc.DSN)
		if err != nil {
			return fmt.Errorf("opening %s store: %w", sc.Driver, err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
	a.logger.Debug("chain store opened", "driver", sc.Driver)
	return nil
}

// requireStore fails commands that only make sense against persisted chains
func (a *application) requireStore() error {
	if a.store == nil {
		return errors.New("this command needs persistent storage; set storage.driver to file, sqlite or postgres")
	}
	return nil
}

func (a *application) providerClient() (*provider.Client, error) {
	pc, limits := a.cfg.Provider, a.cfg.Limits
	if pc.APIKey == "" {
		return nil, fmt.Errorf("provider API key is not set; export %s", config.EnvProviderAPIKey)
	}
	return provider.NewClient(pc.APIKey,
		provider.WithBaseURL(pc.BaseURL),
		provider.WithRetry(limits.MaxRetries),
		provider.WithBackoff(limits.BaseDelay, limits.MaxDelay),
		provider.WithTimeout(limits.Timeout),
		provider.WithRateLimit(limits.RateLimit.RequestsPerMinute, limits.RateLimit.BurstSize),
		provider.WithPollInterval(limits.PollInterval),
		provider.WithLogger(a.logger.With("component", "provider")),
	), nil
}

// Close releases everything in reverse order of acquisition
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
