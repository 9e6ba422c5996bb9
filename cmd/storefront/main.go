package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/catalog"
	"github.com/boltworks/storefront/internal/config"
	"github.com/boltworks/storefront/internal/db"
	dbRedis "github.com/boltworks/storefront/internal/db/redis"
	"github.com/boltworks/storefront/internal/domain"
	logpkg "github.com/boltworks/storefront/internal/logger"
	"github.com/boltworks/storefront/internal/metrics"
	"github.com/boltworks/storefront/internal/repository/embcache"
	"github.com/boltworks/storefront/internal/repository/vector"
	chiTransport "github.com/boltworks/storefront/internal/transport/chi"
	openaiEmb "github.com/boltworks/storefront/internal/transport/openai"
	embeddinguc "github.com/boltworks/storefront/internal/usecase/embedding"
	healthuc "github.com/boltworks/storefront/internal/usecase/health"
	searchuc "github.com/boltworks/storefront/internal/usecase/search"
	"github.com/boltworks/storefront/internal/version"
)

func main() {
	// Load configuration based on ENV
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

	logger.Info("Starting storefront API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("redis_addrs", cfg.Redis.Addrs),
		zap.String("catalog_path", cfg.Catalog.Path),
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
	logger.Info("Connected to vector store")

	cat, err := catalog.Open(ctx, cfg.Catalog.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open product catalog", zap.Error(err))
	}
	defer func() { _ = cat.Close() }()
	logger.Info("Product catalog ready")

	// Register domain metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	provider := buildProvider(cfg, store, logger)
	logger.Info("Embedding provider created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	vectors := vector.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions).
		WithHNSW(vector.HNSWConfig{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		})
	if err := vectors.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}

	engine := searchuc.NewEngine(&searchuc.Config{
		Provider:     provider,
		Vectors:      vectors,
		Catalog:      cat,
		Threshold:    cfg.Search.Threshold,
		Limit:        cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		EmbedTimeout: time.Duration(cfg.Search.EmbedTimeoutMS) * time.Millisecond,
		StoreTimeout: time.Duration(cfg.Search.StoreTimeoutMS) * time.Millisecond,
		Logger:       logger,
	})

	healthSvc := healthuc.New(cat, store, provider)

	server := chiTransport.NewServer(engine, healthSvc, provider, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildProvider assembles the embedder chain: OpenAI -> Cached -> Provider.
// The provider wrapper is outermost, so warm-up gates every request and
// state transitions come only from real backend calls, never cache hits.
func buildProvider(cfg config.Config, store db.Store, logger *zap.Logger) *embeddinguc.Provider {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		cached, err := embcache.New(base, store, embcache.Config{
			KeyPrefix:  cfg.Storage.KeyPrefix,
			LRUSize:    cfg.Storage.CacheLRUSize,
			TTL:        time.Duration(cfg.Storage.CacheTTLSec) * time.Second,
			CacheTotal: metrics.EmbeddingCacheTotal,
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal("Failed to create embedding cache", zap.Error(err))
		}
		embedder = cached
	}

	return embeddinguc.NewProvider(&embeddinguc.Config{
		Inner:         embedder,
		Health:        base,
		WarmupTimeout: time.Duration(cfg.Search.WarmupTimeoutMS) * time.Millisecond,
		RetryAfter:    time.Duration(cfg.Search.RetryAfterMS) * time.Millisecond,
		Logger:        logger,
	})
}
