package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Aman-CERP/esvacuum/internal/catalog"
	"github.com/Aman-CERP/esvacuum/internal/config"
	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/index"
	"github.com/Aman-CERP/esvacuum/internal/logging"
	"github.com/Aman-CERP/esvacuum/internal/store"
	"github.com/Aman-CERP/esvacuum/internal/vacuum"
)

// app holds the collaborators opened for one command run.
type app struct {
	cfg     *config.Config
	store   *store.SQLStore
	catalog catalog.Catalog
	manager *index.Manager

	closers []func()
}

// loadConfig loads the layered configuration for the working directory.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.Load(cwd, configPath)
}

// openApp loads config, sets up logging and opens the database and catalog.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	if err := a.setupLogging(); err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, store.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Table:  cfg.Database.ObjectsTable,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, func() { _ = s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	cat, err := catalog.New(a.catalogOptions())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat
	a.closers = append(a.closers, func() { _ = cat.Close() })

	a.manager = index.NewManager(cat, index.Naming{
		Prefix:   cfg.Catalog.IndexPrefix,
		Database: cfg.Database.Name,
	}, cfg.Catalog.SubIndexTypes)

	slog.Debug("app_opened",
		slog.String("driver", cfg.Database.Driver),
		slog.String("catalog", cfg.Catalog.Backend))
	return a, nil
}

func (a *app) setupLogging() error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = a.cfg.Logging.Level
	if debugMode {
		logCfg.Level = "debug"
	}
	if a.cfg.Logging.File != "" {
		logCfg.FilePath = a.cfg.Logging.File
	}
	logCfg.WriteToStderr = !a.cfg.Logging.Quiet

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return vacerrors.ConfigError("failed to set up logging", err)
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	a.closers = append(a.closers, func() {
		slog.SetDefault(prev)
		cleanup()
	})
	return nil
}

func (a *app) catalogOptions() catalog.Options {
	keepAlive, next := a.cfg.ScrollDurations()
	retry := vacerrors.DefaultRetryConfig()
	retry.MaxRetries = a.cfg.Elasticsearch.MaxRetries
	return catalog.Options{
		Backend:   a.cfg.Catalog.Backend,
		BlevePath: a.cfg.Catalog.BlevePath,
		ES: catalog.ESConfig{
			Addresses:       a.cfg.Elasticsearch.Addresses,
			Username:        a.cfg.Elasticsearch.Username,
			Password:        a.cfg.Elasticsearch.Password,
			DocType:         a.cfg.Elasticsearch.DocType,
			ScrollKeepAlive: keepAlive,
			ScrollContinue:  next,
			Retry:           &retry,
		},
	}
}

func (a *app) deps() vacuum.Deps {
	return vacuum.Deps{Store: a.store, Manager: a.manager}
}

func (a *app) vacuumOptions() vacuum.Options {
	return vacuum.Options{
		PageSize:  a.cfg.Vacuum.PageSize,
		BulkSize:  a.cfg.Vacuum.BulkSize,
		CacheSize: a.cfg.Vacuum.CacheSize,
		Workers:   a.cfg.Vacuum.Workers,
	}
}

// Close releases everything in reverse opening order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
