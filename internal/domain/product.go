package domain

// Product carries the catalog fields the storefront needs for display.
// The catalog owns the full record; search only passes these through.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	Category    string
	InStock     bool
}
