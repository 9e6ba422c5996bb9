package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	openaiEmb "github.com/boltworks/storefront/internal/transport/openai"
)

type mockEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Vector: m.vec}, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockHealth struct {
	mu    sync.Mutex
	err   error
	calls int
	block chan struct{} // when set, HealthCheck waits until closed
}

func (m *mockHealth) HealthCheck(_ context.Context) error {
	m.mu.Lock()
	m.calls++
	block := m.block
	err := m.err
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (m *mockHealth) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestProvider(inner domain.Embedder, health domain.HealthChecker) *Provider {
	return NewProvider(&Config{
		Inner:         inner,
		Health:        health,
		WarmupTimeout: time.Second,
		RetryAfter:    time.Hour,
		Logger:        zap.NewNop(),
	})
}

func TestProvider_EmptyInputRejected(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	p := newTestProvider(inner, nil)

	_, err := p.Embed(context.Background(), "   ")
	if !errors.Is(err, domain.ErrEmbeddingInput) {
		t.Fatalf("expected ErrEmbeddingInput, got %v", err)
	}
	if inner.callCount() != 0 {
		t.Errorf("inner embedder called %d times for empty input", inner.callCount())
	}
}

func TestProvider_WarmupOnFirstEmbed(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1, 0.2}}
	p := newTestProvider(inner, nil)

	if st := p.Status(); st.Available || st.Loading || st.Cached {
		t.Fatalf("expected cold initial status, got %+v", st)
	}

	result, err := p.Embed(context.Background(), "wireless headphones")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Vector) != 2 {
		t.Errorf("vector length = %d, expected 2", len(result.Vector))
	}

	// Probe embed plus the real request
	if inner.callCount() != 2 {
		t.Errorf("inner called %d times, expected 2", inner.callCount())
	}

	st := p.Status()
	if !st.Available || !st.Cached || st.Loading {
		t.Errorf("expected warm status, got %+v", st)
	}
}

func TestProvider_HealthCheckerWarmup(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	health := &mockHealth{}
	p := newTestProvider(inner, health)

	if _, err := p.Embed(context.Background(), "laptop"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if health.callCount() != 1 {
		t.Errorf("health check called %d times, expected 1", health.callCount())
	}
	if inner.callCount() != 1 {
		t.Errorf("inner called %d times, expected 1 (no probe embed)", inner.callCount())
	}
}

func TestProvider_ConcurrentRequestDuringWarmupFailsFast(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	health := &mockHealth{block: make(chan struct{})}
	p := newTestProvider(inner, health)

	firstDone := make(chan error, 1)
	go func() {
		_, err := p.Embed(context.Background(), "first")
		firstDone <- err
	}()

	// Wait until the warm-up is in flight
	deadline := time.After(time.Second)
	for {
		if p.Status().Loading {
			break
		}
		select {
		case <-deadline:
			t.Fatal("warm-up never started")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := p.Embed(context.Background(), "second")
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable during warm-up, got %v", err)
	}

	close(health.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
}

func TestProvider_WarmupFailureCooldown(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	health := &mockHealth{err: errors.New("backend down")}
	p := NewProvider(&Config{
		Inner:         inner,
		Health:        health,
		WarmupTimeout: time.Second,
		RetryAfter:    50 * time.Millisecond,
		Logger:        zap.NewNop(),
	})

	if _, err := p.Embed(context.Background(), "query"); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	// Within cooldown: no second warm-up attempt
	if _, err := p.Embed(context.Background(), "query"); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable during cooldown, got %v", err)
	}
	if health.callCount() != 1 {
		t.Errorf("health check called %d times within cooldown, expected 1", health.callCount())
	}

	// After cooldown the warm-up retries and succeeds
	health.mu.Lock()
	health.err = nil
	health.mu.Unlock()
	time.Sleep(60 * time.Millisecond)

	if _, err := p.Embed(context.Background(), "query"); err != nil {
		t.Fatalf("Embed after cooldown failed: %v", err)
	}
	if health.callCount() != 2 {
		t.Errorf("health check called %d times, expected 2", health.callCount())
	}
}

func TestProvider_BackendFailureMarksModelCold(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	health := &mockHealth{}
	p := newTestProvider(inner, health)

	if _, err := p.Embed(context.Background(), "warm me"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	inner.mu.Lock()
	inner.err = domain.ErrModelUnavailable
	inner.mu.Unlock()

	if _, err := p.Embed(context.Background(), "query"); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if p.Status().Available {
		t.Error("expected provider marked cold after backend failure")
	}
}

func TestProvider_RequestTimeoutKeepsModelWarm(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1}}
	health := &mockHealth{}
	p := newTestProvider(inner, health)

	if _, err := p.Embed(context.Background(), "warm me"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	inner.mu.Lock()
	inner.err = context.DeadlineExceeded
	inner.mu.Unlock()

	if _, err := p.Embed(context.Background(), "query"); err == nil {
		t.Fatal("expected error")
	}
	if !p.Status().Available {
		t.Error("request timeout must not mark the model cold")
	}
}

func TestProvider_SlowBackendDeadlineKeepsModelWarm(t *testing.T) {
	// Real transport against a backend that stalls after the first call.
	// The deadline error arrives wrapped by the HTTP client, not as a
	// bare context.DeadlineExceeded.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","embedding":[0.1,0.2],"index":0}],"model":"test-model","usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer server.Close()

	emb := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Model:    "test-model",
		Provider: "test",
		Logger:   zap.NewNop(),
	})
	p := newTestProvider(emb, &mockHealth{})

	if _, err := p.Embed(context.Background(), "warm me"); err != nil {
		t.Fatalf("warm-up Embed failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Embed(ctx, "query")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded in chain, got %v", err)
	}
	if errors.Is(err, domain.ErrModelUnavailable) {
		t.Errorf("deadline must not carry the model failure tag, got %v", err)
	}
	if st := p.Status(); !st.Available {
		t.Errorf("per-request deadline marked the model cold, status %+v", st)
	}
}

func TestProvider_BatchEmbedFallsBackPerText(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.5}}
	health := &mockHealth{}
	p := newTestProvider(inner, health)

	res, err := p.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(res.Vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(res.Vectors))
	}
	if inner.callCount() != 3 {
		t.Errorf("inner called %d times, expected 3", inner.callCount())
	}
}
