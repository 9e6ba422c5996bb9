// Package client provides a Go client for the storefront search API.
//
//	c := client.New("http://localhost:8080")
//	res, err := c.Search(ctx, "wireless headphones", client.WithLimit(5))
//	if err != nil { ... }
//	for _, p := range res.Products {
//	    fmt.Println(p.Name, p.Relevance)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors mapped from API error codes.
// Use errors.Is() to check.
var (
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
)

// APIError carries the machine-readable code returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront api: %s (%s)", e.Message, e.Code)
}

// Unwrap maps well-known codes onto sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "catalog_unavailable":
		return ErrCatalogUnavailable
	case "validation_failed":
		return ErrInvalidRequest
	}
	return nil
}

// Option configures the Client.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		c.http = hc
	})
}

// WithTimeout sets the per-request timeout. Defaults to 10s.
// Ignored when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		c.timeout = d
	})
}

// Client talks to a storefront API server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a client for the given base URL (scheme and host, no path).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

// SearchOption configures a single search call.
type SearchOption interface {
	apply(url.Values)
}

type searchOptionFunc func(url.Values)

func (f searchOptionFunc) apply(v url.Values) { f(v) }

// WithLimit caps the number of returned products.
func WithLimit(n int) SearchOption {
	return searchOptionFunc(func(v url.Values) {
		v.Set("limit", strconv.Itoa(n))
	})
}

// Search runs a product search. An empty query lists the catalog.
// Degraded results arrive as a normal SearchResult with a non-nil
// Warning; only transport and catalog failures return an error.
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (SearchResult, error) {
	v := url.Values{}
	if query != "" {
		v.Set("q", query)
	}
	for _, opt := range opts {
		opt.apply(v)
	}

	var env envelope
	if err := c.get(ctx, "/api/products/search", v, &env); err != nil {
		return SearchResult{}, err
	}
	return resultFromEnvelope(env), nil
}

// Products lists catalog products without semantic ranking.
func (c *Client) Products(ctx context.Context, opts ...SearchOption) (SearchResult, error) {
	v := url.Values{}
	for _, opt := range opts {
		opt.apply(v)
	}

	var env envelope
	if err := c.get(ctx, "/api/products", v, &env); err != nil {
		return SearchResult{}, err
	}
	return resultFromEnvelope(env), nil
}

// Status reports the embedding model state.
func (c *Client) Status(ctx context.Context) (SearchStatus, error) {
	var st SearchStatus
	if err := c.get(ctx, "/api/search/status", nil, &st); err != nil {
		return SearchStatus{}, err
	}
	return st, nil
}

// Health checks the aggregated health of the server's components.
// A degraded server returns a populated report and a nil error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	u := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Health{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("storefront api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

func (c *Client) get(ctx context.Context, path string, v url.Values, out any) error {
	u := c.baseURL + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storefront api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       env.Error.Code,
				Message:    env.Error.Message,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       "unknown",
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
