package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/talefeed/talefeed/internal/config"
	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/server"
	"github.com/talefeed/talefeed/internal/store"
)

const migrationsPath = "file://migrations"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", true)
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)

	for _, dir := range []string{filepath.Dir(cfg.Store.Path), cfg.Download.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}

	st, err := store.New(cfg.Store.Path, cfg.Store.EnableWAL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open state store")
	}

	sqlDB, err := st.GetSQLDB()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to get underlying database handle")
	}
	if err := store.RunMigrations(sqlDB, migrationsPath); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	srv := server.New(cfg, st)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Log.Fatal().Err(err).Msg("Server failed")
	case sig := <-quit:
		logger.Log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}
}
