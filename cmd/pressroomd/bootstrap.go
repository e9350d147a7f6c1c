package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"pressroom/internal/background"
	"pressroom/internal/config"
	"pressroom/internal/logging"
	"pressroom/internal/pipeline"
	"pressroom/internal/queue"
	"pressroom/internal/relay"
	"pressroom/internal/runner"
	"pressroom/internal/server"
)

// daemon wires the store, registry, runner, background group, and HTTP
// server together and owns their shutdown order.
type daemon struct {
	lock   *flock.Flock
	store  *queue.Store
	tasks  *background.Group
	server *server.Server
	logger *slog.Logger
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another pressroomd already holds %s", cfg.LockPath())
	}

	store, err := queue.Open(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		_ = store.Close()
		_ = lock.Unlock()
		return nil, err
	}

	tasks := background.New(ctx, 0, logger)
	run := runner.New(store, registry, logger, runner.OptionsFromConfig(cfg))
	srv := server.New(cfg.Bind, store, registry, run, tasks, logger)

	return &daemon{
		lock:   lock,
		store:  store,
		tasks:  tasks,
		server: srv,
		logger: logging.WithComponent(logger, "daemon"),
	}, nil
}

// buildRegistry registers every configured pipeline and a relay handler per
// stage. Stages shared between job types share one handler; the first
// pipeline declaring a stage decides which base URL serves it.
func buildRegistry(cfg *config.Config) (*pipeline.Registry, error) {
	registry := pipeline.NewRegistry()
	timeout := time.Duration(cfg.HandlerTimeout) * time.Second

	for _, p := range cfg.Pipelines {
		if err := registry.RegisterPipeline(p.JobType, p.Stages...); err != nil {
			return nil, err
		}
		if p.HandlerBaseURL == "" {
			return nil, fmt.Errorf("pipeline %q has no handler_base_url", p.JobType)
		}
		for _, stage := range p.Stages {
			if _, exists := registry.Handler(stage); exists {
				continue
			}
			handler, err := relay.New(p.HandlerBaseURL, stage, timeout)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			if err := registry.RegisterHandler(stage, handler); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

func (d *daemon) Close() {
	if d == nil {
		return
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("close store", logging.Error(err))
		}
	}
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Error("release daemon lock", logging.Error(err))
		}
	}
}
