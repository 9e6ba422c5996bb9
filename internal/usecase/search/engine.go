package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/domain/search"
	"github.com/boltworks/storefront/internal/metrics"
)

// Engine defaults, all overridable via Config.
const (
	DefaultThreshold    = 0.3
	DefaultLimit        = 10
	DefaultMaxLimit     = 100
	DefaultEmbedTimeout = 5 * time.Second
	DefaultStoreTimeout = 2 * time.Second
)

// Engine runs a product search as a per-request pipeline: embed the query,
// rank by vector similarity, hydrate from the catalog. Every semantic-path
// failure degrades to a keyword search over the same text; the engine only
// returns an error when the catalog itself is down.
type Engine struct {
	provider Provider
	vectors  VectorStore
	catalog  Catalog

	threshold    float64
	defaultLimit int
	maxLimit     int
	embedTimeout time.Duration
	storeTimeout time.Duration
	logger       *zap.Logger
}

// Config holds the engine settings. Zero values fall back to the package
// defaults so tests can construct a minimal engine.
type Config struct {
	Provider  Provider
	Vectors   VectorStore
	Catalog   Catalog
	Threshold float64
	Limit     int
	MaxLimit  int

	EmbedTimeout time.Duration
	StoreTimeout time.Duration
	Logger       *zap.Logger
}

// NewEngine creates a search engine.
func NewEngine(cfg *Config) *Engine {
	e := &Engine{
		provider:     cfg.Provider,
		vectors:      cfg.Vectors,
		catalog:      cfg.Catalog,
		threshold:    cfg.Threshold,
		defaultLimit: cfg.Limit,
		maxLimit:     cfg.MaxLimit,
		embedTimeout: cfg.EmbedTimeout,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultThreshold
	}
	if e.defaultLimit <= 0 {
		e.defaultLimit = DefaultLimit
	}
	if e.maxLimit <= 0 {
		e.maxLimit = DefaultMaxLimit
	}
	if e.embedTimeout <= 0 {
		e.embedTimeout = DefaultEmbedTimeout
	}
	if e.storeTimeout <= 0 {
		e.storeTimeout = DefaultStoreTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Search executes the pipeline for one query. Any panic below this point
// is converted into the fallback path so a semantic-search bug can never
// break the search bar.
func (e *Engine) Search(ctx context.Context, q search.Query) (resp *search.Response, err error) {
	start := time.Now()
	limit := q.ClampLimit(e.defaultLimit, e.maxLimit)
	text := q.Trimmed()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in search pipeline", zap.Any("panic", r), zap.String("query", text))
			resp, err = e.fallback(ctx, text, limit, search.ReasonInternalError)
		}
		if resp != nil {
			metrics.SearchRequestsTotal.WithLabelValues(string(resp.Type)).Inc()
			metrics.SearchDuration.WithLabelValues(string(resp.Type)).Observe(time.Since(start).Seconds())
		}
	}()

	if text == "" {
		return e.listing(ctx, limit)
	}

	// A request arriving while another one is loading the model does not
	// queue behind the load, it degrades immediately.
	if e.provider.Status().Loading {
		return e.fallback(ctx, text, limit, search.ReasonModelUnavailable)
	}

	matches, semErr := e.semantic(ctx, text, limit)
	if semErr != nil {
		if errors.Is(semErr, domain.ErrEmbeddingInput) {
			return e.listing(ctx, limit)
		}
		reason := fallbackReason(semErr)
		e.logger.Warn("Semantic search degraded",
			zap.String("query", text),
			zap.String("reason", reason),
			zap.Error(semErr),
		)
		return e.fallback(ctx, text, limit, reason)
	}

	if len(matches) == 0 {
		return e.semanticFallback(ctx, text, limit)
	}

	results, err := e.hydrate(ctx, matches)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		// All hits pointed at products gone from the catalog (stale index)
		return e.semanticFallback(ctx, text, limit)
	}

	meta := search.ComputeMetadata(e.threshold, results)
	return &search.Response{
		Results:   results,
		Type:      search.TypeSemantic,
		Query:     text,
		Message:   fmt.Sprintf("Found %d products matching your search", len(results)),
		AIEnabled: true,
		Metadata:  &meta,
	}, nil
}

// semantic embeds the query and ranks against the vector store, each step
// under its own bounded timeout.
func (e *Engine) semantic(ctx context.Context, text string, limit int) ([]search.Match, error) {
	ectx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	embResult, err := e.provider.Embed(ectx, text)
	cancel()
	if err != nil {
		if ectx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("vectorize query: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	matches, err := e.vectors.SimilaritySearch(sctx, embResult.Vector, limit, e.threshold)
	cancel()
	if err != nil {
		if sctx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("similarity search: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return matches, nil
}

// hydrate resolves vector-store hits to catalog products, preserving the
// ranked order. Hits whose product disappeared from the catalog are dropped.
func (e *Engine) hydrate(ctx context.Context, matches []search.Match) ([]search.Result, error) {
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.ProductID
	}

	products, err := e.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate products: %w: %w", err, domain.ErrCatalogUnavailable)
	}

	results := make([]search.Result, 0, len(matches))
	for _, m := range matches {
		p, ok := products[m.ProductID]
		if !ok {
			continue
		}
		results = append(results, search.Result{
			Product:    p,
			Similarity: m.Similarity,
			Scored:     true,
		})
	}
	return results, nil
}

// semanticFallback serves keyword results when the semantic path worked
// but nothing cleared the threshold.
func (e *Engine) semanticFallback(ctx context.Context, text string, limit int) (*search.Response, error) {
	products, err := e.keyword(ctx, text, limit)
	if err != nil {
		return nil, err
	}

	metrics.SearchFallbacksTotal.WithLabelValues(search.ReasonNoSemanticMatches).Inc()
	return &search.Response{
		Results:   asUnscored(products),
		Type:      search.TypeSemanticFallback,
		Query:     text,
		Message:   "No close matches found, showing keyword results",
		AIEnabled: e.provider.Status().Available,
		Warning: &search.Warning{
			Message: "No products matched your search closely enough, showing keyword matches instead",
			Reason:  search.ReasonNoSemanticMatches,
		},
	}, nil
}

// fallback serves keyword results after a semantic-path failure. Only a
// catalog failure escapes as an error.
func (e *Engine) fallback(ctx context.Context, text string, limit int, reason string) (*search.Response, error) {
	products, err := e.keyword(ctx, text, limit)
	if err != nil {
		return nil, err
	}

	metrics.SearchFallbacksTotal.WithLabelValues(reason).Inc()
	return &search.Response{
		Results:   asUnscored(products),
		Type:      search.TypeFallback,
		Query:     text,
		Message:   "Showing keyword search results",
		AIEnabled: e.provider.Status().Available,
		Warning: &search.Warning{
			Message: "Smart search is temporarily unavailable, showing keyword results",
			Reason:  reason,
		},
	}, nil
}

// listing serves the plain catalog listing for an empty query.
func (e *Engine) listing(ctx context.Context, limit int) (*search.Response, error) {
	products, err := e.catalog.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w: %w", err, domain.ErrCatalogUnavailable)
	}

	return &search.Response{
		Results:   asUnscored(products),
		Type:      search.TypeRegular,
		Query:     "",
		Message:   "Showing all products",
		AIEnabled: e.provider.Status().Available,
	}, nil
}

func (e *Engine) keyword(ctx context.Context, text string, limit int) ([]domain.Product, error) {
	products, err := e.catalog.KeywordSearch(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w: %w", err, domain.ErrCatalogUnavailable)
	}
	return products, nil
}

func asUnscored(products []domain.Product) []search.Result {
	results := make([]search.Result, len(products))
	for i, p := range products {
		results[i] = search.Result{Product: p}
	}
	return results
}

// fallbackReason maps a semantic-path error to the warning reason.
// Timeout is checked first: a deadline on either suspension point reports
// as "timeout" even when the transport wrapped it further.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return search.ReasonTimeout
	case errors.Is(err, domain.ErrModelUnavailable):
		return search.ReasonModelUnavailable
	case errors.Is(err, domain.ErrStoreUnavailable):
		return search.ReasonStoreUnavailable
	default:
		return search.ReasonInternalError
	}
}
