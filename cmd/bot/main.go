package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"phone-gate-bot/internal/allowlist"
	"phone-gate-bot/internal/audit"
	"phone-gate-bot/internal/config"
	"phone-gate-bot/internal/duration"
	"phone-gate-bot/internal/procctl"
	"phone-gate-bot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	var logLevel slog.Level
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Logging.JSONFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Create root context with cancellation
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// WaitGroup for tracking active goroutines
	var wg sync.WaitGroup

	// Initialize allow-list store
	store, err := allowlist.NewFileStore(cfg.Store.AllowedFile, cfg.Store.TempFile, logger)
	if err != nil {
		logger.Error("failed to create allow-list store", "error", err)
		os.Exit(1)
	}

	// Initialize audit store
	auditStore, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
	if err != nil {
		logger.Error("failed to create audit store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	// Initialize script runner
	runner := procctl.NewRunner(cfg.Scripts.Restart, cfg.Scripts.Update, logger)

	// Initialize Telegram bot
	bot, err := telegram.NewBot(cfg, store, auditStore, runner, logger)
	if err != nil {
		logger.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	// Start expiry sweeper in goroutine (interval validated by config.Load)
	sweepInterval, _ := duration.ParseInterval(cfg.Store.SweepInterval)
	sweeper := allowlist.NewSweeper(store, sweepInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(rootCtx)
	}()

	// Start bot in goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bot.Run(rootCtx); err != nil && err != context.Canceled {
			logger.Error("bot error", "error", err)
		}
	}()

	logger.Info("bot started",
		"admin_id", cfg.Telegram.AdminID,
		"allowed_file", cfg.Store.AllowedFile,
		"temp_file", cfg.Store.TempFile,
		"sweep_interval", sweepInterval,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig)

	// Cancel root context to signal all goroutines
	rootCancel()

	// Wait for graceful shutdown with timeout
	shutdownTimeout := 30 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}
