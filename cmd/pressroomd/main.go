// Command pressroomd runs the pipeline daemon: it opens the store, registers
// the configured pipelines, and serves the worker and intake endpoints until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pressroom/internal/config"
	"pressroom/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, resolvedPath, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pressroomd: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pressroomd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", logging.Error(err))
		os.Exit(1)
	}
	defer daemon.Close()

	logger.Info("pressroomd starting",
		logging.String("config", resolvedPath),
		logging.String("db", daemon.store.Path()),
		logging.String("bind", cfg.Bind))

	errCh := make(chan error, 1)
	go func() { errCh <- daemon.server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", logging.Error(err))
			os.Exit(1)
		}
		return
	}

	grace := time.Duration(cfg.ShutdownGrace) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := daemon.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", logging.Error(err))
	}
	if !daemon.tasks.Flush(grace) {
		logger.Warn("exiting with unfinished background work; leases will redeliver")
	}
	logger.Info("pressroomd stopped")
}
