package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/metrics"
)

const (
	// DefaultWarmupTimeout bounds a single model warm-up attempt.
	DefaultWarmupTimeout = 30 * time.Second
	// DefaultRetryAfter is the cooldown before retrying a failed warm-up.
	DefaultRetryAfter = 15 * time.Second
)

// warmupProbe is the text embedded during warm-up when no health checker
// is configured. Embedding it forces the backend to load the model.
const warmupProbe = "warmup"

// Provider wraps an embedder chain with model warm-up state. The first
// Embed call triggers a synchronous warm-up; requests arriving while the
// warm-up is in flight fail fast with ErrModelUnavailable so the search
// engine can fall back instead of queueing behind a cold model.
type Provider struct {
	inner  domain.Embedder
	health domain.HealthChecker

	warmupTimeout time.Duration
	retryAfter    time.Duration
	logger        *zap.Logger

	mu          sync.Mutex
	available   bool
	loading     bool
	cached      bool
	lastAttempt time.Time
}

// Config holds the provider settings. Inner is required; Health is
// optional and preferred over a probe embed for warm-up.
type Config struct {
	Inner         domain.Embedder
	Health        domain.HealthChecker
	WarmupTimeout time.Duration
	RetryAfter    time.Duration
	Logger        *zap.Logger
}

// NewProvider creates a provider with cold model state.
func NewProvider(cfg *Config) *Provider {
	wt := cfg.WarmupTimeout
	if wt <= 0 {
		wt = DefaultWarmupTimeout
	}
	ra := cfg.RetryAfter
	if ra <= 0 {
		ra = DefaultRetryAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		inner:         cfg.Inner,
		health:        cfg.Health,
		warmupTimeout: wt,
		retryAfter:    ra,
		logger:        logger,
	}
}

// Embed validates the input, ensures the model is warm, and delegates.
// A provider failure after warm-up marks the model cold again so the
// next call re-runs the warm-up cycle.
func (p *Provider) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmbeddingResult{}, fmt.Errorf("empty text: %w", domain.ErrEmbeddingInput)
	}

	if err := p.ensureWarm(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}

	result, err := p.inner.Embed(ctx, text)
	if err != nil {
		p.markCold(err)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return result, nil
}

// BatchEmbed ensures the model is warm and delegates, falling back to
// per-text Embed when the chain has no native batch support.
func (p *Provider) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	if err := p.ensureWarm(ctx); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	var result domain.BatchEmbeddingResult
	var err error
	if be, ok := p.inner.(domain.BatchEmbedder); ok {
		result, err = be.BatchEmbed(ctx, texts)
	} else {
		result, err = domain.BatchFallback(ctx, p.inner, texts)
	}
	if err != nil {
		p.markCold(err)
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return result, nil
}

// Status implements domain.StatusReporter. Never blocks on the provider.
func (p *Provider) Status() domain.ProviderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ProviderStatus{
		Available: p.available,
		Loading:   p.loading,
		Cached:    p.cached,
	}
}

// ensureWarm returns nil when the model is ready. Exactly one caller
// runs the warm-up; everyone else fails fast with ErrModelUnavailable.
func (p *Provider) ensureWarm(ctx context.Context) error {
	p.mu.Lock()
	if p.available {
		p.mu.Unlock()
		return nil
	}
	if p.loading {
		p.mu.Unlock()
		return fmt.Errorf("model is loading: %w", domain.ErrModelUnavailable)
	}
	if !p.lastAttempt.IsZero() && time.Since(p.lastAttempt) < p.retryAfter {
		p.mu.Unlock()
		return fmt.Errorf("warm-up cooldown: %w", domain.ErrModelUnavailable)
	}
	p.loading = true
	p.lastAttempt = time.Now()
	p.mu.Unlock()

	err := p.warmup(ctx)

	p.mu.Lock()
	p.loading = false
	if err == nil {
		p.available = true
		p.cached = true
	}
	p.mu.Unlock()

	if err != nil {
		metrics.ModelWarmupsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Model warm-up failed", zap.Error(err))
		return fmt.Errorf("warm-up: %w: %w", err, domain.ErrModelUnavailable)
	}

	metrics.ModelWarmupsTotal.WithLabelValues("success").Inc()
	p.logger.Info("Embedding model warmed up")
	return nil
}

func (p *Provider) warmup(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, p.warmupTimeout)
	defer cancel()

	if p.health != nil {
		return p.health.HealthCheck(wctx)
	}
	_, err := p.inner.Embed(wctx, warmupProbe)
	return err
}

// markCold flips the provider back to cold state after a backend failure
// so the next request re-runs the warm-up instead of hammering a dead
// backend. Per-request timeouts and cancellations keep the warm state.
func (p *Provider) markCold(err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return
	}
	if !errors.Is(err, domain.ErrModelUnavailable) {
		return
	}
	p.mu.Lock()
	p.available = false
	p.lastAttempt = time.Now()
	p.mu.Unlock()
	p.logger.Warn("Embedding provider failed, marking model cold", zap.Error(err))
}
