// Package main runs the Helsinki GSE seminar hub: a weekly email digest and
// per-series calendar feeds built from the school's public event pages.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"seminar-hub/batch"
	"seminar-hub/config"
	"seminar-hub/digest"
	"seminar-hub/email"
	"seminar-hub/feed"
	"seminar-hub/lifecycle"
	"seminar-hub/scraper"
	"seminar-hub/server"
	"seminar-hub/storage"
	"seminar-hub/token"
)

func main() {
	defaultConfig := os.Getenv("CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML config file")
	once := flag.Bool("once", false, "run one digest batch and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()

	store := storage.New(db, logger)
	if err := store.InitSchema(ctx); err != nil {
		logger.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	loc := cfg.Location()
	codec := token.New([]byte(cfg.Tokens.Secret))

	var provider email.Provider
	if cfg.Mail.SendgridAPIKey != "" {
		provider = email.NewSendGridProvider(cfg.Mail.SendgridAPIKey, cfg.Mail.From, cfg.Mail.FromName, logger)
	} else {
		logger.Info("No SendGrid API key configured, mock email mode enabled")
		provider = email.NewMockProvider(logger)
	}
	sender := email.New(provider, cfg.BaseURL, loc, cfg.Tokens.ConfirmTTL, logger)

	scrape := scraper.New(
		&http.Client{Timeout: 30 * time.Second},
		cfg.Scrape.SourceURL,
		cfg.Scrape.RequestDelay,
		cfg.SeriesLabels(),
		logger,
	)

	lc := lifecycle.New(store, codec, cfg.Tokens.ConfirmTTL, cfg.Tokens.UnsubscribeTTL, logger)
	compiler := digest.New(store, store)
	feeds := feed.New(store, cfg.Series, loc)
	runner := batch.New(scrape, store, compiler, sender, lc, cfg.Digest.RunTimeout, logger)

	if *once {
		if err := runner.Run(ctx); err != nil {
			logger.Error("Digest run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(&server.Config{
		Lifecycle: lc,
		Emailer:   sender,
		Batch:     runner,
		Feeds:     feeds,
		Series:    cfg.Series,
		Logger:    logger,
	})

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(cfg.Digest.Cron, func() {
		if err := runner.Run(context.Background()); err != nil {
			logger.Error("Scheduled digest run failed", "error", err)
		}
	}); err != nil {
		logger.Error("Invalid cron spec", "cron", cfg.Digest.Cron, "error", err)
		os.Exit(1)
	}
	sched.Start()

	httpServer := srv.HTTPServer(cfg.Listen)
	go func() {
		logger.Info("Starting HTTP server", "listen", cfg.Listen, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	cronCtx := sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not finish cleanly", "error", err)
	}

	// Let an in-flight scheduled run finish within the shutdown window.
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Scheduled run still in flight at exit")
	}
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
