package domain

import "errors"

var (
	// ErrModelUnavailable signals that the embedding model is not loaded or failed to load.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrEmbeddingInput signals malformed input to the embedding call.
	ErrEmbeddingInput = errors.New("invalid embedding input")
	// ErrStoreUnavailable signals an unreachable or failing vector store.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrCatalogUnavailable signals that the product catalog itself is failing.
	// This is the one core error that surfaces to the API layer as a server error.
	ErrCatalogUnavailable = errors.New("product catalog unavailable")
	// ErrVectorDimMismatch signals an embedding vector of the wrong dimension.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrProductNotFound signals a missing catalog product.
	ErrProductNotFound = errors.New("product not found")
)
