package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
	"github.com/boltworks/storefront/internal/domain/search"
	"github.com/boltworks/storefront/internal/metrics"
	healthuc "github.com/boltworks/storefront/internal/usecase/health"
)

// Searcher is the engine contract the transport consumes.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the storefront HTTP API.
type Server struct {
	engine        Searcher
	health        *healthuc.Service
	status        domain.StatusReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(engine Searcher, health *healthuc.Service, status domain.StatusReporter, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		health: health,
		status: status,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrCatalogUnavailable, http.StatusServiceUnavailable, "catalog_unavailable"),
		sentinelHandler(domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"),
	}
	return s
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/api/products/search", s.handleSearch)
	r.Get("/api/products", s.handleListProducts)
	r.Get("/api/search/status", s.handleSearchStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// --- JSON contract ---

type productJSON struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	InStock     bool    `json:"inStock"`

	// Present only on semantic hits
	Similarity        *float64 `json:"similarity,omitempty"`
	SimilarityPercent *int     `json:"similarityPercent,omitempty"`
	Relevance         string   `json:"relevance,omitempty"`
}

type metadataJSON struct {
	Threshold     float64 `json:"threshold"`
	AvgSimilarity float64 `json:"avgSimilarity"`
	TopSimilarity float64 `json:"topSimilarity"`
}

type warningJSON struct {
	Message      string `json:"message"`
	Reason       string `json:"reason"`
	FallbackUsed bool   `json:"fallbackUsed"`
}

type searchDataJSON struct {
	Products       []productJSON `json:"products"`
	SearchType     string        `json:"searchType"`
	AIEnabled      bool          `json:"aiEnabled"`
	Query          string        `json:"query"`
	Message        string        `json:"message"`
	SearchMetadata *metadataJSON `json:"searchMetadata,omitempty"`
}

type envelopeJSON struct {
	Success bool            `json:"success"`
	Data    *searchDataJSON `json:"data,omitempty"`
	Warning *warningJSON    `json:"warning,omitempty"`
	Error   *errorJSON      `json:"error,omitempty"`
}

type errorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusJSON struct {
	Available    bool `json:"available"`
	ModelCached  bool `json:"modelCached"`
	ModelLoading bool `json:"modelLoading"`
}

// --- Handlers ---

// handleSearch handles GET /api/products/search?q=&limit=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	q := search.Query{Text: r.URL.Query().Get("q"), Limit: limit}
	resp, err := s.engine.Search(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelopeFromResponse(resp))
}

// handleListProducts handles GET /api/products?limit=. Same envelope as
// search with an empty query, so it runs the regular listing path.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	resp, err := s.engine.Search(r.Context(), search.Query{Limit: limit})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelopeFromResponse(resp))
}

// handleSearchStatus handles GET /api/search/status.
func (s *Server) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	writeJSON(w, http.StatusOK, statusJSON{
		Available:    st.Available,
		ModelCached:  st.Cached,
		ModelLoading: st.Loading,
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// --- Shaping ---

func envelopeFromResponse(resp *search.Response) envelopeJSON {
	data := &searchDataJSON{
		Products:   make([]productJSON, len(resp.Results)),
		SearchType: string(resp.Type),
		AIEnabled:  resp.AIEnabled,
		Query:      resp.Query,
		Message:    resp.Message,
	}

	for i, res := range resp.Results {
		data.Products[i] = productFromResult(res)
	}

	if resp.Metadata != nil {
		data.SearchMetadata = &metadataJSON{
			Threshold:     resp.Metadata.Threshold,
			AvgSimilarity: resp.Metadata.AvgSimilarity,
			TopSimilarity: resp.Metadata.TopSimilarity,
		}
	}

	env := envelopeJSON{Success: true, Data: data}
	if resp.Warning != nil {
		env.Warning = &warningJSON{
			Message:      resp.Warning.Message,
			Reason:       resp.Warning.Reason,
			FallbackUsed: true,
		}
	}
	return env
}

func productFromResult(res search.Result) productJSON {
	p := productJSON{
		ID:          res.Product.ID,
		Name:        res.Product.Name,
		Description: res.Product.Description,
		Price:       res.Product.Price,
		Category:    res.Product.Category,
		InStock:     res.Product.InStock,
	}
	if res.Scored {
		sim := res.Similarity
		pct := search.Percent(sim)
		p.Similarity = &sim
		p.SimilarityPercent = &pct
		p.Relevance = search.Relevance(sim)
	}
	return p
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelopeJSON{
		Success: false,
		Error:   &errorJSON{Code: code, Message: message},
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrCatalogUnavailable,
		domain.ErrProductNotFound,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
