package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/config"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/notify"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/ops"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/session"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/status"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Pick the backend: redis when configured, else postgres, else the
	// local SQLite store in offline mode.
	var (
		remote store.RemoteStore
		err    error
	)
	switch {
	case cfg.RedisURL != "":
		remote, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("connected to Redis")
	case cfg.DatabaseURL != "":
		remote, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
	default:
		remote, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("running offline against SQLite")
	}
	defer remote.Close()
	remote = store.Instrument(remote)

	notifier := notify.NewNotifier(notify.Config{},
		notify.LogPlayer{Log: logger},
		notify.LogDesktop{Log: logger, Permitted: true},
		notify.LogToasts{Log: logger},
		logger)

	sess := session.New(cfg, remote, notifier, status.NewScheduler(), logger)
	if err := sess.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("session start failed")
	}

	// Create router
	router := ops.NewRouter(logger, remote, sess)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("user", sess.Self().ID).
			Msg("starting slackhub daemon")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess.Close(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("stopped")
}
