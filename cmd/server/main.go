package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bmkg_alert/internal/api"
	"bmkg_alert/internal/bmkg"
	"bmkg_alert/internal/config"
	"bmkg_alert/internal/dispatch"
	"bmkg_alert/internal/engine"
	"bmkg_alert/internal/notify"
	"bmkg_alert/internal/observability"
	"bmkg_alert/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("failed to create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	feed := bmkg.New(cfg.BMKGAPIURL, &http.Client{Timeout: 30 * time.Second})

	senders := notify.NewSenders(&http.Client{Timeout: 15 * time.Second}, notify.SMTPDefaults{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	disp := dispatch.New(store, senders, log, metrics)

	eng := engine.New(store, feed, disp, log, metrics)

	ctrl := api.New(store, feed, eng, disp, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.TelegramBotToken != "" {
		bot, err := notify.NewTrialBot(cfg.TelegramBotToken, log)
		if err != nil {
			log.Error("failed to connect trial bot, trials disabled", "error", err)
		} else {
			eng.SetTrialSender(bot)
			ctrl.SetTrialMessenger(bot)
			go bot.Run(ctx)
			log.Info("trial bot connected", "username", bot.Username())
		}
	}

	eng.Start(ctx)

	go func() {
		if err := ctrl.Start(cfg.Addr()); err != nil {
			log.Error("http server failed", "error", err)
			cancel()
		}
	}()
	log.Info("server started", "addr", cfg.Addr(), "bmkg_api_url", cfg.BMKGAPIURL, "demo_mode", cfg.DemoMode)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	eng.Stop(shutdownCtx)
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
