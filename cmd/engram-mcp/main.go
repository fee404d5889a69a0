package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/engramhq/engram/internal/buildconfig"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/mcp"
	"github.com/engramhq/engram/internal/redact"
	"github.com/engramhq/engram/internal/service"
	"github.com/engramhq/engram/internal/store"
)

// newLogger builds a stderr logger, optionally teeing into logs/engram-mcp.log.
// Stdout belongs to the tool transport and must stay clean.
func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(config.LogLevel()); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	if err := os.MkdirAll(config.LogsDir(), 0o755); err == nil {
		cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(config.LogsDir(), "engram-mcp.log"))
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	// Opens the same store as the daemon. The process lock makes the two
	// mutually exclusive on one data directory; run one or the other.
	db, err := store.Open(config.DatabasePath(), config.EmbeddingDimensions())
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingURL(), config.EmbeddingModel(), config.EmbeddingDimensions())
	if err != nil {
		logger.Fatal("failed to initialize embedder", zap.Error(err))
	}

	cfg := service.RuntimeConfig{
		Port:                  config.ServerPort(),
		DataDir:               config.DataDir(),
		EmbeddingProvider:     config.EmbeddingProvider(),
		EmbeddingModel:        config.EmbeddingModel(),
		EmbeddingDimensions:   config.EmbeddingDimensions(),
		ConsolidationInterval: config.ConsolidationInterval().String(),
		RecallCandidateCap:    config.RecallCandidateCap(),
	}

	memStore := store.NewMemoryStore(db)
	memories := service.NewMemoryService(memStore, embedder, redact.New(), extract.New(), cfg, logger)
	recall := service.NewRecallService(memStore, embedder, config.RecallCandidateCap(), logger)

	srv := mcp.NewServer(memories, recall, buildconfig.Version(), logger)

	logger.Info("tool server starting",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()))
	if err := srv.ServeStdio(); err != nil {
		logger.Fatal("tool server failed", zap.Error(err))
	}
	logger.Info("tool server stopped")
}
