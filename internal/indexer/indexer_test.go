package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/repository/vector"
)

type mockCatalog struct {
	products []domain.Product
	err      error
}

func (m *mockCatalog) All(_ context.Context) ([]domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.products, nil
}

type mockVectorStore struct {
	mu         sync.Mutex
	records    map[int64]*vector.Record
	upsertErr  map[int64]error
	ensureErr  error
	ensured    bool
	deletedIDs []int64
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{records: make(map[int64]*vector.Record)}
}

func (m *mockVectorStore) EnsureIndex(_ context.Context) error {
	m.ensured = true
	return m.ensureErr
}

func (m *mockVectorStore) Upsert(_ context.Context, rec *vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.upsertErr[rec.ProductID]; err != nil {
		return err
	}
	m.records[rec.ProductID] = rec
	return nil
}

func (m *mockVectorStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *mockVectorStore) ProductIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids, nil
}

type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	// Deterministic vector derived from text length
	return domain.EmbeddingResult{Vector: []float32{float32(len(text)), 1}}, nil
}

func newTestIndexer(c *mockCatalog, v *mockVectorStore, e domain.Embedder) *Indexer {
	return New(&Config{
		Catalog:  c,
		Vectors:  v,
		Embedder: e,
		Workers:  2,
		Logger:   zap.NewNop(),
	})
}

func TestReindex_IndexesAllProducts(t *testing.T) {
	catalog := &mockCatalog{products: []domain.Product{
		{ID: 1, Name: "bolt", Description: "M8 hex bolt", Category: "hardware"},
		{ID: 2, Name: "nut", Description: "M8 nut", Category: "hardware"},
		{ID: 3, Name: "washer"},
	}}
	store := newMockVectorStore()

	ix := newTestIndexer(catalog, store, &mockEmbedder{})
	stats, err := ix.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}

	if stats.Indexed != 3 || stats.Failed != 0 || stats.Removed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !store.ensured {
		t.Error("index was not ensured before writing")
	}
	for _, id := range []int64{1, 2, 3} {
		rec, ok := store.records[id]
		if !ok {
			t.Errorf("product %d not indexed", id)
			continue
		}
		if len(rec.Title) == 0 || len(rec.Description) == 0 || len(rec.Combined) == 0 {
			t.Errorf("product %d missing vectors: %+v", id, rec)
		}
	}
}

func TestReindex_PartialFailureContinues(t *testing.T) {
	catalog := &mockCatalog{products: []domain.Product{
		{ID: 1, Name: "bolt"},
		{ID: 2, Name: "nut"},
	}}
	store := newMockVectorStore()
	store.upsertErr = map[int64]error{2: errors.New("write refused")}

	ix := newTestIndexer(catalog, store, &mockEmbedder{})
	stats, err := ix.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}

	if stats.Indexed != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestReindex_RemovesOrphans(t *testing.T) {
	catalog := &mockCatalog{products: []domain.Product{{ID: 1, Name: "bolt"}}}
	store := newMockVectorStore()
	// Stale record for a product deleted from the catalog
	store.records[99] = &vector.Record{ProductID: 99}

	ix := newTestIndexer(catalog, store, &mockEmbedder{})
	stats, err := ix.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}

	if stats.Removed != 1 {
		t.Errorf("removed = %d, expected 1", stats.Removed)
	}
	if _, ok := store.records[99]; ok {
		t.Error("orphan record 99 still present")
	}
	if _, ok := store.records[1]; !ok {
		t.Error("live record 1 was removed")
	}
}

func TestReindex_CatalogDownAborts(t *testing.T) {
	catalog := &mockCatalog{err: errors.New("disk error")}
	store := newMockVectorStore()

	ix := newTestIndexer(catalog, store, &mockEmbedder{})
	_, err := ix.Reindex(context.Background())
	if !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}

func TestReindex_EmbedderDownCountsFailures(t *testing.T) {
	catalog := &mockCatalog{products: []domain.Product{
		{ID: 1, Name: "bolt"},
		{ID: 2, Name: "nut"},
	}}
	store := newMockVectorStore()

	ix := newTestIndexer(catalog, store, &mockEmbedder{err: domain.ErrModelUnavailable})
	stats, err := ix.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if stats.Indexed != 0 || stats.Failed != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
