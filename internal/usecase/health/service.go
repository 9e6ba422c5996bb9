package health

import (
	"context"

	"github.com/boltworks/storefront/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckLoading indicates the embedding model is warming up.
	CheckLoading CheckResult = "loading"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks. The embedding check reads the
// provider state and never blocks on the backend.
type Service struct {
	catalog   CatalogPinger
	vectors   VectorPinger
	embedding domain.StatusReporter
}

// New creates a Service. vectors and embedding can be nil.
func New(catalog CatalogPinger, vectors VectorPinger, embedding domain.StatusReporter) *Service {
	return &Service{catalog: catalog, vectors: vectors, embedding: embedding}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.catalog.Ping(ctx); err != nil {
		checks["catalog"] = CheckError
	} else {
		checks["catalog"] = CheckOK
	}

	if s.vectors != nil {
		if err := s.vectors.Ping(ctx); err != nil {
			checks["vector_store"] = CheckError
		} else {
			checks["vector_store"] = CheckOK
		}
	}

	if s.embedding != nil {
		switch st := s.embedding.Status(); {
		case st.Available:
			checks["embedding"] = CheckOK
		case st.Loading:
			checks["embedding"] = CheckLoading
		default:
			checks["embedding"] = CheckError
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
