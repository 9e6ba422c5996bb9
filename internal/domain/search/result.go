package search

import (
	"math"

	"github.com/boltworks/storefront/internal/domain"
)

// Type tags how a response was produced.
type Type string

const (
	// TypeSemantic marks results ranked by vector similarity.
	TypeSemantic Type = "semantic"
	// TypeSemanticFallback marks keyword results after zero semantic matches.
	TypeSemanticFallback Type = "semantic_fallback"
	// TypeFallback marks keyword results after a semantic-path failure.
	TypeFallback Type = "fallback"
	// TypeRegular marks a plain catalog listing (empty query).
	TypeRegular Type = "regular"
)

// Fallback reasons attached to warnings.
const (
	ReasonModelUnavailable  = "model_unavailable"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonTimeout           = "timeout"
	ReasonInternalError     = "internal_error"
	ReasonNoSemanticMatches = "no_semantic_matches"
)

// Match is a vector-store hit: product identity plus cosine similarity in [0,1].
type Match struct {
	ProductID  int64
	Similarity float64
}

// Result pairs a catalog product with its similarity score.
// Scored is false on keyword and listing paths, where Similarity is meaningless.
type Result struct {
	Product    domain.Product
	Similarity float64
	Scored     bool
}

// Metadata summarizes the returned semantic set. Present only for TypeSemantic.
type Metadata struct {
	Threshold     float64
	AvgSimilarity float64
	TopSimilarity float64
}

// Warning explains a fallback to the caller.
type Warning struct {
	Message string
	Reason  string
}

// Response is the engine's result envelope. The engine always returns one
// for any non-empty query unless the catalog itself is down.
type Response struct {
	Results   []Result
	Type      Type
	Query     string
	Message   string
	AIEnabled bool
	Metadata  *Metadata
	Warning   *Warning
}

// ComputeMetadata computes avg/top similarity over the final returned set,
// post-threshold and post-limit, not the full candidate set.
func ComputeMetadata(threshold float64, results []Result) Metadata {
	m := Metadata{Threshold: threshold}
	if len(results) == 0 {
		return m
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
		if r.Similarity > m.TopSimilarity {
			m.TopSimilarity = r.Similarity
		}
	}
	m.AvgSimilarity = sum / float64(len(results))
	return m
}

// Relevance buckets a similarity score for presentation. Descriptive only,
// never used for ranking or filtering.
func Relevance(similarity float64) string {
	switch {
	case similarity >= 0.8:
		return "highly relevant"
	case similarity >= 0.6:
		return "very relevant"
	case similarity >= 0.4:
		return "relevant"
	default:
		return "somewhat relevant"
	}
}

// Percent renders a similarity as a display percentage.
func Percent(similarity float64) int {
	return int(math.Round(similarity * 100))
}
