package embcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boltworks/storefront/internal/db"
	"github.com/boltworks/storefront/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Vector:       []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ctx := context.Background()

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	var setCalled bool
	ms.setFn = func(_ context.Context, _ string, _ []byte) error {
		setCalled = true
		return nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Vector) != 3 || result.Vector[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Vector)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if !setCalled {
		t.Fatal("expected SET to be called for cache put")
	}
}

func TestEmbed_StoreHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Vector: []float32{0.1, 0.2, 0.3},
	}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ctx := context.Background()

	cached := vectorToCacheBytes([]float32{0.4, 0.5, 0.6})
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Vector) != 3 || result.Vector[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Vector)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
	if inner.calls != 0 {
		t.Fatalf("expected 0 inner calls on hit, got %d", inner.calls)
	}
}

func TestEmbed_LRUHitSkipsStore(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Vector: []float32{0.7, 0.8},
	}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{LRUSize: 16})
	ctx := context.Background()

	var storeGets int
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		storeGets++
		return nil, db.ErrKeyNotFound
	}

	// First call misses both tiers and fills the LRU.
	if _, err := ce.Embed(ctx, "hot query"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second call must be served from the LRU.
	result, err := ce.Embed(ctx, "hot query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Vector[0] != 0.7 {
		t.Fatalf("unexpected vector: %v", result.Vector)
	}
	if storeGets != 1 {
		t.Errorf("expected 1 store GET, got %d", storeGets)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
}

func TestEmbed_StoreHitWarmsLRU(t *testing.T) {
	inner := &mockEmbedder{}
	ce, ms := newTestCachedEmbedder(t, inner, Config{LRUSize: 16})
	ctx := context.Background()

	cached := vectorToCacheBytes([]float32{0.9})
	var storeGets int
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		storeGets++
		return cached, nil
	}

	if _, err := ce.Embed(ctx, "query"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ce.Embed(ctx, "query"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if storeGets != 1 {
		t.Errorf("expected second call to hit the LRU, got %d store GETs", storeGets)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: errors.New("provider down")}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ctx := context.Background()

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	_, err := ce.Embed(ctx, "test text")
	if err == nil {
		t.Fatal("expected error from inner embedder")
	}
}

func TestEmbed_TTLPassedToStore(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Vector: []float32{0.1}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{TTL: 24 * time.Hour})
	ctx := context.Background()

	if _, err := ce.Embed(ctx, "query"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.setTTL != 24*time.Hour {
		t.Errorf("expected TTL=24h, got %v", ms.setTTL)
	}
}

func TestEmbed_CorruptCacheEntryFallsThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Vector: []float32{0.1, 0.2}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ctx := context.Background()

	// Length not divisible by 4 cannot be a float32 vector.
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	}

	result, err := ce.Embed(ctx, "query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Vector[0] != 0.1 {
		t.Fatalf("expected inner vector, got %v", result.Vector)
	}
	if inner.calls != 1 {
		t.Errorf("expected inner call on corrupt entry, got %d", inner.calls)
	}
}

func TestEmbed_StoreErrorIsNotFatal(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Vector: []float32{0.3}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ctx := context.Background()

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, errors.New("connection reset")
	}
	ms.setFn = func(_ context.Context, _ string, _ []byte) error {
		return errors.New("connection reset")
	}

	result, err := ce.Embed(ctx, "query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Vector[0] != 0.3 {
		t.Fatalf("expected inner vector, got %v", result.Vector)
	}
}

func TestCacheKey_DiffersByText(t *testing.T) {
	inner := &mockEmbedder{}
	ce, _ := newTestCachedEmbedder(t, inner, Config{KeyPrefix: "storefront:"})

	a := ce.cacheKey("red shoes")
	b := ce.cacheKey("blue shoes")
	if a == b {
		t.Error("expected distinct keys for distinct texts")
	}
	if a[:len("storefront:emb_cache:")] != "storefront:emb_cache:" {
		t.Errorf("unexpected key prefix: %q", a)
	}
}
