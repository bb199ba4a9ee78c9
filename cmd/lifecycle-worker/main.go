package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/project-vector/internal/app"
	"github.com/hackgods/project-vector/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("lifecycle-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "backend", cfg.Backend)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping lifecycle worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a, logger)
		}
	}
}

func runOnce(ctx context.Context, a *app.App, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if a.Store != nil {
		// pick up writes from other processes before deciding what is due
		if err := a.Store.Load(runCtx); err != nil {
			logger.Error("reload store", "error", err)
			return
		}
	}
	changed, err := a.Appointments.NormalizeLifecycle(runCtx)
	if err != nil {
		logger.Error("lifecycle run error", "error", err)
		return
	}
	logger.Info("lifecycle run complete", "changed", changed, "took", time.Since(start))
}
