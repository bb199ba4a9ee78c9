package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/project-vector/internal/app"
	"github.com/hackgods/project-vector/internal/config"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/mockstore"
	"github.com/hackgods/project-vector/internal/seed"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "backend", cfg.Backend, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Store != nil && cfg.SeedOnStart {
		seedStore(rootCtx, a, cfg, logger)
	}

	go refreshLoop(rootCtx, a, cfg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.Handler(version),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func seedStore(ctx context.Context, a *app.App, cfg config.Config, logger *slog.Logger) {
	res, err := seed.Generate(seed.Options{Days: cfg.SeedDays, VideoRatio: cfg.SeedVideoRatio})
	if err != nil {
		logger.Error("generate seed data", "error", err)
		return
	}
	seeded, err := a.Store.Seed(ctx, res.Data)
	if err != nil {
		logger.Error("seed store", "error", err)
		return
	}
	if seeded {
		for _, p := range res.Providers {
			logger.Info("seeded provider", "email", p.Email)
		}
	}
}

// refreshLoop keeps the served state current. The local store reloads when
// another process rewrites its document and on every tick, which also
// applies the lifecycle rules. Remote backends get the lifecycle pass only.
func refreshLoop(ctx context.Context, a *app.App, cfg config.Config, logger *slog.Logger) {
	if fs, ok := a.KV.(*kv.FileStore); ok && a.Store != nil {
		go func() {
			err := fs.Watch(ctx, 200*time.Millisecond, func(key string) {
				if key != mockstore.CurrentKey {
					return
				}
				if err := a.Store.Load(ctx); err != nil {
					logger.Warn("reload after external change", "error", err)
				}
			})
			if err != nil {
				logger.Warn("file watch stopped", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Store != nil {
				if err := a.Store.Load(ctx); err != nil {
					logger.Warn("periodic reload", "error", err)
				}
				continue
			}
			if _, err := a.Appointments.NormalizeLifecycle(ctx); err != nil {
				logger.Warn("lifecycle pass", "error", err)
			}
		}
	}
}
