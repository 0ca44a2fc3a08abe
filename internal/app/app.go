// Package app assembles the pipeline, stores and watcher from configuration
// for the server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/db"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/services"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Settings *config.Holder
	Tracker  *services.CallTracker
	Factory  services.AnalyzerFactory
	Pipeline *services.Pipeline
	DB       *gorm.DB
	// History receives uploads, sample and CLI runs, and a copy of every
	// watcher result.
	History services.ResultStore
	// Watcher is nil unless the watcher is enabled or forced.
	Watcher *services.Watcher
}

// Option adjusts assembly.
type Option func(*options)

type options struct {
	forceWatcher bool
	watchDir     string
}

// WithWatcher builds the watcher even when it is disabled in configuration.
// A non-empty dir overrides the configured watch directory.
func WithWatcher(dir string) Option {
	return func(o *options) {
		o.forceWatcher = true
		o.watchDir = dir
	}
}

// New connects the database when one is configured and wires everything else.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if gormDB != nil {
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, err
		}
	}

	a := &App{
		Config:   cfg,
		Settings: config.NewHolder(cfg.Analyzer),
		Tracker:  services.NewCallTracker(0),
		DB:       gormDB,
	}
	a.Factory = services.NewAnalyzerFactory(a.Tracker)

	a.Pipeline = services.NewPipeline(services.PipelineConfig{
		Settings:      a.Settings,
		Factory:       a.Factory,
		Deliverer:     services.NewSlackWebhook(cfg.Delivery.WebhookURL, services.WithDeliveryTimeout(cfg.Delivery.Timeout)),
		Channel:       cfg.Delivery.Channel,
		ExtraPatterns: cfg.Parser.ExtraPatterns,
	})

	if gormDB != nil {
		a.History = services.NewGormStore(gormDB)
	} else {
		a.History = services.NewFileStore(cfg.Server.HistoryDir)
	}

	if cfg.Watcher.Enabled || o.forceWatcher {
		dir := cfg.Watcher.Dir
		if o.watchDir != "" {
			dir = o.watchDir
		}
		processed := services.NewFileStore(services.ProcessedDirFor(dir))
		a.Watcher = services.NewWatcher(services.WatcherOptions{
			WatchDir:     dir,
			PollInterval: cfg.Watcher.PollInterval,
			Runner:       a.Pipeline,
			Store:        services.NewMultiStore(processed, a.History),
			FSNotify:     cfg.Watcher.FSNotify,
		})
	}

	logger.Info("Application assembled", map[string]interface{}{
		"provider":    a.Settings.Get().Provider,
		"fingerprint": a.Settings.Get().Fingerprint(),
		"database":    cfg.Database.Driver,
		"watcher":     a.Watcher != nil,
	})
	return a, nil
}

// RunWatcher blocks until ctx is cancelled. It is a no-op without a watcher.
func (a *App) RunWatcher(ctx context.Context) error {
	if a.Watcher == nil {
		return nil
	}
	return a.Watcher.Run(ctx)
}

// Close releases the database connection.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
