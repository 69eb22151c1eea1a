package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/config"
	"github.com/Veraticus/lookalike/internal/metrics"
	"github.com/Veraticus/lookalike/internal/service"
	"github.com/Veraticus/lookalike/internal/storage"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// stageEnv carries what every pipeline stage needs. registry is nil when the
// run registry is disabled or could not be opened.
type stageEnv struct {
	cfg      *config.Config
	fs       afero.Fs
	out      io.Writer
	logger   *slog.Logger
	registry service.RunRegistry
	metrics  *metrics.Prometheus
}

// newStageEnv loads the configuration and opens the run registry.
func newStageEnv(ctx context.Context, out io.Writer) (*stageEnv, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	env := &stageEnv{
		cfg:     cfg,
		fs:      afero.NewOsFs(),
		out:     out,
		logger:  common.Logger(ctx),
		metrics: metrics.NewPrometheusMetrics(),
	}

	registry, err := initRegistry(ctx, cfg.Registry.Path)
	if err != nil {
		env.logger.Warn("Run registry unavailable, runs will not be recorded", "path", cfg.Registry.Path, "error", err)
	} else {
		env.registry = registry
	}

	return env, nil
}

// initRegistry opens and migrates the run registry. An empty path disables
// it and returns a nil registry.
func initRegistry(ctx context.Context, dbPath string) (service.RunRegistry, error) {
	if dbPath == "" {
		return nil, nil
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close flushes the metrics textfile and closes the registry.
func (e *stageEnv) Close() {
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			e.logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
		} else {
			e.logger.Debug("Metrics written", "path", path)
		}
	}
	if e.registry != nil {
		if err := e.registry.Close(); err != nil {
			e.logger.Warn("Failed to close run registry", "error", err)
		}
	}
}

// withEnv runs fn with a fresh stage environment and closes it afterwards.
func withEnv(ctx context.Context, out io.Writer, fn func(env *stageEnv) error) error {
	env, err := newStageEnv(ctx, out)
	if err != nil {
		return err
	}
	defer env.Close()

	return fn(env)
}

func (e *stageEnv) println(s string) {
	if _, err := fmt.Fprintln(e.out, s); err != nil {
		e.logger.Warn("Failed to write output", "error", err)
	}
}
