package search

import "strings"

// Query is a single search request. Ephemeral, constructed per request.
type Query struct {
	Text  string
	Limit int
}

// Trimmed returns the query text with surrounding whitespace removed.
// An empty trimmed text routes to the plain listing path, never to embedding.
func (q Query) Trimmed() string {
	return strings.TrimSpace(q.Text)
}

// ClampLimit resolves the effective result cap: def when unset, max as ceiling.
func (q Query) ClampLimit(def, max int) int {
	if q.Limit <= 0 {
		return def
	}
	if q.Limit > max {
		return max
	}
	return q.Limit
}
