package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/boltworks/storefront/internal/db"
	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/domain/search"
)

// store is the consumer interface for embedding record operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// HNSWConfig tunes the approximate nearest-neighbor index.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo stores product embedding records and answers similarity queries.
type Repo struct {
	store     store
	keyPrefix string
	dims      int
	hnsw      HNSWConfig
}

// New creates an embedding repository. keyPrefix namespaces all record keys.
func New(s store, keyPrefix string, dims int) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, dims: dims}
}

// WithHNSW overrides index tuning parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

func (r *Repo) recordPrefix() string { return r.keyPrefix + "emb:" }
func (r *Repo) indexName() string    { return r.keyPrefix + "emb_idx" }

func (r *Repo) key(productID int64) string {
	return r.recordPrefix() + strconv.FormatInt(productID, 10)
}

// EnsureIndex creates the HNSW index over combined embeddings if absent.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return fmt.Errorf("index probe: %w", storeErr(err))
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:        r.indexName(),
		Prefix:      r.recordPrefix(),
		VectorField: fieldCombined,
		Dimensions:  r.dims,
		HNSWM:       r.hnsw.M,
		EFConstruct: r.hnsw.EFConstruct,
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", storeErr(err))
	}
	return nil
}

// Upsert writes a product embedding record, replacing any previous vectors.
func (r *Repo) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(r.dims); err != nil {
		return err
	}
	if err := r.store.HSet(ctx, r.key(rec.ProductID), rec.toFields()); err != nil {
		return fmt.Errorf("upsert embedding %d: %w", rec.ProductID, storeErr(err))
	}
	return nil
}

// Get reads one record back. Returns domain.ErrProductNotFound for missing keys.
func (r *Repo) Get(ctx context.Context, productID int64) (Record, error) {
	fields, err := r.store.HGetAll(ctx, r.key(productID))
	if err != nil {
		return Record{}, fmt.Errorf("get embedding %d: %w", productID, storeErr(err))
	}
	if len(fields) == 0 {
		return Record{}, domain.ErrProductNotFound
	}
	return recordFromFields(fields)
}

// Delete removes a product's embedding record. Deleting an absent record is a no-op.
func (r *Repo) Delete(ctx context.Context, productID int64) error {
	if err := r.store.Del(ctx, r.key(productID)); err != nil {
		return fmt.Errorf("delete embedding %d: %w", productID, storeErr(err))
	}
	return nil
}

// ProductIDs lists all product ids with a stored embedding record.
func (r *Repo) ProductIDs(ctx context.Context) ([]int64, error) {
	keys, err := r.store.Scan(ctx, r.recordPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", storeErr(err))
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, r.recordPrefix()), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SimilaritySearch returns up to limit matches with similarity >= threshold,
// ordered by similarity descending, product id ascending. Zero matches is an
// empty slice, not an error.
func (r *Repo) SimilaritySearch(
	ctx context.Context, queryVector []float32, limit int, threshold float64,
) ([]search.Match, error) {
	if len(queryVector) != r.dims {
		return nil, fmt.Errorf("query vector has dim %d, want %d: %w",
			len(queryVector), r.dims, domain.ErrVectorDimMismatch)
	}

	q := &db.KNNQuery{
		IndexName:    r.indexName(),
		VectorField:  fieldCombined,
		Vector:       queryVector,
		K:            limit,
		ReturnFields: []string{fieldProductID},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", storeErr(err))
	}
	if sr == nil || sr.Total == 0 {
		return []search.Match{}, nil
	}

	matches := make([]search.Match, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		if entry.Score < threshold {
			continue
		}
		id, err := r.entryProductID(entry)
		if err != nil {
			continue
		}
		matches = append(matches, search.Match{ProductID: id, Similarity: entry.Score})
	}

	// Store ordering is not trusted: re-sort for deterministic output.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ProductID < matches[j].ProductID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *Repo) entryProductID(entry db.SearchEntry) (int64, error) {
	if s, ok := entry.Fields[fieldProductID]; ok {
		return strconv.ParseInt(s, 10, 64)
	}
	return strconv.ParseInt(strings.TrimPrefix(entry.Key, r.recordPrefix()), 10, 64)
}

// storeErr tags driver failures as the retryable store-unavailable condition.
func storeErr(err error) error {
	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
