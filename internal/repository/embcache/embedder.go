package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/db"
	"github.com/boltworks/storefront/internal/domain"
)

// store is the consumer interface for the shared cache tier (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEmbedder caches query embeddings in two tiers: an in-process LRU for
// hot queries, then a shared key-value store. Cache hits report zero tokens.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	local      *lru.Cache[string, []float32]
	keyPrefix  string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// Config holds cache tuning. LRUSize <= 0 disables the in-process tier.
type Config struct {
	KeyPrefix  string
	LRUSize    int
	TTL        time.Duration
	CacheTotal *prometheus.CounterVec // labels: tier, result
	Logger     *zap.Logger
}

// New creates the caching decorator.
func New(inner domain.Embedder, s store, cfg Config) (*CachedEmbedder, error) {
	c := &CachedEmbedder{
		inner:      inner,
		store:      s,
		keyPrefix:  cfg.KeyPrefix + "emb_cache:",
		ttl:        cfg.TTL,
		cacheTotal: cfg.CacheTotal,
		logger:     cfg.Logger,
	}
	if cfg.LRUSize > 0 {
		local, err := lru.New[string, []float32](cfg.LRUSize)
		if err != nil {
			return nil, fmt.Errorf("embedding lru: %w", err)
		}
		c.local = local
	}
	return c, nil
}

// Embed returns a cached vector or calls the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)

	if c.local != nil {
		if vec, ok := c.local.Get(key); ok {
			c.inc("lru", "hit")
			return domain.EmbeddingResult{Vector: vec}, nil
		}
		c.inc("lru", "miss")
	}

	if vec, ok := c.getFromStore(ctx, key); ok {
		c.inc("store", "hit")
		if c.local != nil {
			c.local.Add(key, vec)
		}
		return domain.EmbeddingResult{Vector: vec}, nil
	}
	c.inc("store", "miss")

	result, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	if c.local != nil {
		c.local.Add(key, result.Vector)
	}
	c.putToStore(ctx, key, result.Vector)
	return result, nil
}

func (c *CachedEmbedder) inc(tier, result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(tier, result).Inc()
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.keyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) getFromStore(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}

	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}

func (c *CachedEmbedder) putToStore(ctx context.Context, key string, vec []float32) {
	data := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	var err error
	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, data, c.ttl)
	} else {
		err = c.store.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}
