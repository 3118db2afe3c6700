// Package app wires the configuration, layout, engine and runner together
// for the command-line entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"wpmirror/internal/catalog"
	"wpmirror/internal/config"
	"wpmirror/internal/entity"
	"wpmirror/internal/layout"
	"wpmirror/internal/ledger"
	"wpmirror/internal/liveasset"
	"wpmirror/internal/metacache"
	"wpmirror/internal/mirrorsink"
	"wpmirror/internal/report"
	"wpmirror/internal/runner"
	"wpmirror/internal/state"
	"wpmirror/internal/syncer"
	"wpmirror/internal/transfer"
)

type App struct {
	cfg    *config.Config
	runner *runner.Runner
	ledger *ledger.Ledger
	log    *slog.Logger
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}

	lo := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %q", cfg.LogLevel)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))

	lay, err := layout.New(&cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("cannot build layout: %w", err)
	}

	var led *ledger.Ledger
	if cfg.RedisURL != "" {
		led, err = ledger.New(cfg.RedisURL, log)
		if err != nil {
			return nil, fmt.Errorf("cannot connect ledger: %w", err)
		}
	}

	var sink mirrorsink.ObjectStore
	if cfg.SinkRoot != "" {
		sink = mirrorsink.NewFSStore(cfg.SinkRoot)
	}

	fetcher := transfer.New(lay, cfg.Sync.RequestTimeout, log)
	live := liveasset.New(lay, cfg.Sync.RequestTimeout, log)
	store := state.New(lay, log)
	cache := metacache.New(lay, cfg.Sync.RequestTimeout, log)

	builders := catalog.New(cfg, lay, cache, store, live, log)
	sync := syncer.New(fetcher, live, store, lay, sink, cfg.Sync.Workers, log)
	index := report.NewIndexWriter(lay, log)

	return &App{
		cfg:    cfg,
		runner: runner.New(cfg, lay, builders, sync, store, led, index, log),
		ledger: led,
		log:    log,
	}, nil
}

// Sync executes one synchronization run.
func (a *App) Sync(ctx context.Context, opt runner.Options) (*report.RunSummary, error) {
	return a.runner.Run(ctx, opt)
}

// Synced lists items the ledger records as complete for a section.
func (a *App) Synced(ctx context.Context, section entity.Section) (map[string]string, error) {
	return a.ledger.Synced(ctx, section)
}

// Counters returns the ledger's accumulated counters for a section.
func (a *App) Counters(ctx context.Context, section entity.Section) (map[string]string, error) {
	return a.ledger.Counters(ctx, section)
}

func (a *App) Close() {
	if a.ledger.Enabled() {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("Cannot close ledger", slog.Any("error", err))
		}
	}
}
