package search

import (
	"context"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/domain/search"
)

// Provider is the embedding contract the engine consumes.
type Provider interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	Status() domain.ProviderStatus
}

// VectorStore runs similarity search over product embeddings.
type VectorStore interface {
	SimilaritySearch(
		ctx context.Context, queryVector []float32, limit int, threshold float64,
	) ([]search.Match, error)
}

// Catalog is the product-catalog contract: keyword fallback search,
// plain listing, and hydration of vector-store hits into products.
type Catalog interface {
	KeywordSearch(ctx context.Context, query string, limit int) ([]domain.Product, error)
	List(ctx context.Context, limit int) ([]domain.Product, error)
	ProductsByID(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}
