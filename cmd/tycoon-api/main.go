package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tycoon/internal/api"
	"tycoon/internal/app"
	"tycoon/internal/config"
	"tycoon/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	locker, closeLocker, err := app.NewLocker(ctx, cfg, logger)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer closeLocker()

	notifier, closeNotifier := app.NewNotifier(cfg, logger)
	defer closeNotifier()

	gameSvc := game.NewService(store, logger,
		game.WithLocker(locker),
		game.WithNotifier(notifier),
		game.WithStarterCapital(cfg.StarterCapital),
	)
	if cfg.StartupSeed {
		if err := app.SeedCatalog(ctx, gameSvc, cfg); err != nil {
			logger.Error("seed catalog failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(logger, gameSvc, cfg.RequestTimeout)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tycoon api listening", "addr", cfg.Addr, "store", cfg.Store)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
