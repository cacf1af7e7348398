package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roelfdiedericks/memclaw/internal/agent"
	"github.com/roelfdiedericks/memclaw/internal/bus"
	"github.com/roelfdiedericks/memclaw/internal/config"
	"github.com/roelfdiedericks/memclaw/internal/gateway"
	"github.com/roelfdiedericks/memclaw/internal/logging"
	"github.com/roelfdiedericks/memclaw/internal/worker"
)

// runWorker starts the queue consumer and the gateway, and keeps both
// running until interrupted. Config changes apply on the next restart;
// the watcher only logs that a change was seen.
func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	port := fs.Int("port", 0, "gateway port (overrides config)")
	fs.Parse(args)

	cfg, s, q, closeDB, err := openEnv(false)
	if err != nil {
		return err
	}
	defer closeDB()

	logger := logging.New(&logging.Config{
		Level: logging.ParseLevel(cfg.Logging.Level),
		File:  cfg.Logging.File,
	})

	ag, err := agent.FromConfig(&cfg.Agent, logger)
	if err != nil {
		return err
	}

	b := bus.New(logger)
	w := worker.New(s, q, ag, b, cfg, logger)

	gwPort := cfg.Worker.Port
	if *port != 0 {
		gwPort = *port
	}
	gw := gateway.New(s, q, b, gwPort, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.Watch(ctx, func(next *config.Config) {
		logger.Info("settings changed, restart the worker to apply")
	}); err != nil {
		logger.Warn("settings watcher unavailable", "error", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- gw.Start() }()
	go func() { errCh <- w.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("component exited", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return gw.Shutdown(shutdownCtx)
}
