package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/buildconfig"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/service"
	"github.com/engramhq/engram/internal/store"
)

// newLogger builds the process logger from ENGRAM_LOG_LEVEL. Output goes to
// stderr and, when the data directory is writable, to logs/engram.log.
func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(config.LogLevel()); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	if err := os.MkdirAll(config.LogsDir(), 0o755); err == nil {
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(config.LogsDir(), "engram.log"))
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runtimeConfig() service.RuntimeConfig {
	return service.RuntimeConfig{
		Port:                  config.ServerPort(),
		DataDir:               config.DataDir(),
		EmbeddingProvider:     config.EmbeddingProvider(),
		EmbeddingModel:        config.EmbeddingModel(),
		EmbeddingDimensions:   config.EmbeddingDimensions(),
		ConsolidationInterval: config.ConsolidationInterval().String(),
		RecallCandidateCap:    config.RecallCandidateCap(),
	}
}

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(config.DatabasePath(), config.EmbeddingDimensions())
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()
	logger.Info("store opened", zap.String("path", config.DatabasePath()))

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingURL(), config.EmbeddingModel(), config.EmbeddingDimensions())
	if err != nil {
		logger.Fatal("failed to initialize embedder", zap.Error(err))
	}
	logger.Info("embedder ready",
		zap.String("provider", config.EmbeddingProvider()),
		zap.String("model", config.EmbeddingModel()))

	app := api.NewApp(db, embedder, runtimeConfig(), logger)

	// Start background services
	if config.ConsolidationEnabled() {
		app.Consolidation.Start()
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()),
			zap.String("commit", buildconfig.Commit()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	// Stop background services
	if config.ConsolidationEnabled() {
		app.Consolidation.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
