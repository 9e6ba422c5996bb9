package health

import "context"

// CatalogPinger checks product catalog availability.
type CatalogPinger interface {
	Ping(ctx context.Context) error
}

// VectorPinger checks vector store availability.
type VectorPinger interface {
	Ping(ctx context.Context) error
}
