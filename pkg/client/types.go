package client

// Product is one catalog product as returned by the API. The similarity
// fields are set only on semantically ranked results.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	InStock     bool    `json:"inStock"`

	Similarity        *float64 `json:"similarity,omitempty"`
	SimilarityPercent *int     `json:"similarityPercent,omitempty"`
	Relevance         string   `json:"relevance,omitempty"`
}

// Metadata summarizes the similarity scores of a semantic result set.
type Metadata struct {
	Threshold     float64 `json:"threshold"`
	AvgSimilarity float64 `json:"avgSimilarity"`
	TopSimilarity float64 `json:"topSimilarity"`
}

// Warning explains a degraded (fallback) result set.
type Warning struct {
	Message      string `json:"message"`
	Reason       string `json:"reason"`
	FallbackUsed bool   `json:"fallbackUsed"`
}

// SearchResult is a decoded search response.
//
// SearchType is one of "semantic", "semantic_fallback", "fallback",
// "regular". Warning is nil when the response is not degraded.
type SearchResult struct {
	Products   []Product
	SearchType string
	AIEnabled  bool
	Query      string
	Message    string
	Metadata   *Metadata
	Warning    *Warning
}

// SearchStatus reports the embedding model state.
type SearchStatus struct {
	Available    bool `json:"available"`
	ModelCached  bool `json:"modelCached"`
	ModelLoading bool `json:"modelLoading"`
}

// Health is the aggregated component health report.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// --- Wire format ---

type envelope struct {
	Success bool        `json:"success"`
	Data    *searchData `json:"data"`
	Warning *Warning    `json:"warning"`
	Error   *apiError   `json:"error"`
}

type searchData struct {
	Products       []Product `json:"products"`
	SearchType     string    `json:"searchType"`
	AIEnabled      bool      `json:"aiEnabled"`
	Query          string    `json:"query"`
	Message        string    `json:"message"`
	SearchMetadata *Metadata `json:"searchMetadata"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func resultFromEnvelope(env envelope) SearchResult {
	if env.Data == nil {
		return SearchResult{}
	}
	return SearchResult{
		Products:   env.Data.Products,
		SearchType: env.Data.SearchType,
		AIEnabled:  env.Data.AIEnabled,
		Query:      env.Data.Query,
		Message:    env.Data.Message,
		Metadata:   env.Data.SearchMetadata,
		Warning:    env.Warning,
	}
}
