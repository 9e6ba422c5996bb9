package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/catalog"
	"github.com/boltworks/storefront/internal/config"
	dbRedis "github.com/boltworks/storefront/internal/db/redis"
	"github.com/boltworks/storefront/internal/indexer"
	logpkg "github.com/boltworks/storefront/internal/logger"
	"github.com/boltworks/storefront/internal/metrics"
	"github.com/boltworks/storefront/internal/repository/vector"
	openaiEmb "github.com/boltworks/storefront/internal/transport/openai"
	"github.com/boltworks/storefront/internal/version"
)

// reindex recomputes embeddings for the whole product catalog. It is a
// one-shot job, meant to run after catalog imports or a model change.
func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting catalog reindex",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("workers", cfg.Indexer.Workers),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Vector store not ready", zap.Error(err))
	}

	cat, err := catalog.Open(ctx, cfg.Catalog.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open product catalog", zap.Error(err))
	}
	defer func() { _ = cat.Close() }()

	metrics.RegisterEmbeddingMetrics()

	// The indexer talks to the raw embedder. Warm-up gating and query
	// caching only matter on the serving path.
	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	vectors := vector.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions).
		WithHNSW(vector.HNSWConfig{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		})

	idx := indexer.New(&indexer.Config{
		Catalog:  cat,
		Vectors:  vectors,
		Embedder: embedder,
		Workers:  cfg.Indexer.Workers,
		Logger:   logger,
	})

	stats, err := idx.Reindex(ctx)
	if err != nil {
		logger.Error("Reindex failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Reindex complete",
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.Int("removed", stats.Removed),
	)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
