package indexer

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/repository/vector"
)

// Catalog feeds the indexer with the full product set.
type Catalog interface {
	All(ctx context.Context) ([]domain.Product, error)
}

// VectorStore receives the computed embedding records.
type VectorStore interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, rec *vector.Record) error
	Delete(ctx context.Context, productID int64) error
	ProductIDs(ctx context.Context) ([]int64, error)
}

// Stats summarizes a reindex run.
type Stats struct {
	Indexed int
	Failed  int
	Removed int
}

// Indexer recomputes product embeddings in bulk. Products are embedded
// concurrently through a bounded worker pool; records whose product no
// longer exists in the catalog are removed afterwards.
type Indexer struct {
	catalog  Catalog
	vectors  VectorStore
	embedder domain.Embedder
	workers  int
	logger   *zap.Logger
}

// Config holds indexer settings. Workers defaults to half the CPUs.
type Config struct {
	Catalog  Catalog
	Vectors  VectorStore
	Embedder domain.Embedder
	Workers  int
	Logger   *zap.Logger
}

// New creates an indexer.
func New(cfg *Config) *Indexer {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		catalog:  cfg.Catalog,
		vectors:  cfg.Vectors,
		embedder: cfg.Embedder,
		workers:  workers,
		logger:   logger,
	}
}

// Reindex embeds every catalog product and reconciles the vector store.
// Per-product embedding failures are counted, logged, and skipped; only
// catalog or index-level failures abort the run.
func (ix *Indexer) Reindex(ctx context.Context) (Stats, error) {
	products, err := ix.catalog.All(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load catalog: %w: %w", err, domain.ErrCatalogUnavailable)
	}

	if err := ix.vectors.EnsureIndex(ctx); err != nil {
		return Stats{}, fmt.Errorf("ensure index: %w", err)
	}

	pool, err := ants.NewPool(ix.workers)
	if err != nil {
		return Stats{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu    sync.Mutex
		stats Stats
		wg    sync.WaitGroup
	)

	for _, p := range products {
		p := p
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := ix.indexProduct(ctx, p); err != nil {
				ix.logger.Warn("Failed to index product",
					zap.Int64("product_id", p.ID),
					zap.Error(err),
				)
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			stats.Indexed++
			mu.Unlock()
		}); err != nil {
			wg.Done()
			mu.Lock()
			stats.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	removed, err := ix.removeOrphans(ctx, products)
	if err != nil {
		return stats, err
	}
	stats.Removed = removed

	ix.logger.Info("Reindex complete",
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.Int("removed", stats.Removed),
	)
	return stats, nil
}

// indexProduct embeds the product's title, description, and combined text
// and writes one record with all three vectors.
func (ix *Indexer) indexProduct(ctx context.Context, p domain.Product) error {
	texts := []string{p.Name, p.Description, combinedText(p)}

	var result domain.BatchEmbeddingResult
	var err error
	if be, ok := ix.embedder.(domain.BatchEmbedder); ok {
		result, err = be.BatchEmbed(ctx, texts)
	} else {
		result, err = domain.BatchFallback(ctx, ix.embedder, texts)
	}
	if err != nil {
		return fmt.Errorf("embed product %d: %w", p.ID, err)
	}
	if len(result.Vectors) != len(texts) {
		return fmt.Errorf("embed product %d: got %d vectors, want %d", p.ID, len(result.Vectors), len(texts))
	}

	rec := &vector.Record{
		ProductID:   p.ID,
		Title:       result.Vectors[0],
		Description: result.Vectors[1],
		Combined:    result.Vectors[2],
	}
	if err := ix.vectors.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("store embedding %d: %w", p.ID, err)
	}
	return nil
}

// removeOrphans deletes embedding records whose product is gone from the
// catalog. This realizes the cascade between catalog and vector store.
func (ix *Indexer) removeOrphans(ctx context.Context, products []domain.Product) (int, error) {
	live := make(map[int64]struct{}, len(products))
	for _, p := range products {
		live[p.ID] = struct{}{}
	}

	ids, err := ix.vectors.ProductIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed products: %w", err)
	}

	removed := 0
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := ix.vectors.Delete(ctx, id); err != nil {
			ix.logger.Warn("Failed to remove orphan embedding",
				zap.Int64("product_id", id),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

// combinedText is the text behind combined_vec, the vector queries rank on.
func combinedText(p domain.Product) string {
	parts := make([]string, 0, 3)
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Category != "" {
		parts = append(parts, p.Category)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, ". ")
}
