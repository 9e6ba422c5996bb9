package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Catalog is the SQLite-backed product catalog. It is the source of truth
// for product data; the vector store only holds derived embeddings.
type Catalog struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the catalog database at path and applies
// pending migrations. Use ":memory:" for tests.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Catalog, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	c := New(db, logger)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing database handle without running migrations.
func New(db *sql.DB, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{db: db, logger: logger}
}

// Migrate applies embedded goose migrations.
func (c *Catalog) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, c.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping checks catalog availability.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle for test fixtures.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

const productColumns = "id, name, description, price, category, in_stock"

// List returns products in id order, capped at limit.
func (c *Catalog) List(ctx context.Context, limit int) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products ORDER BY id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// KeywordSearch runs a plain substring search over name and description.
// Name matches rank before description-only matches; within a rank,
// products come back in id order so results are deterministic.
func (c *Catalog) KeywordSearch(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		ORDER BY CASE WHEN name LIKE ? ESCAPE '\' THEN 0 ELSE 1 END, id
		LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ProductsByID resolves ids to products. Missing ids are simply absent
// from the map, not an error.
func (c *Catalog) ProductsByID(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if len(ids) == 0 {
		return map[int64]domain.Product{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("products by id: %w", err)
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// Get returns a single product.
func (c *Catalog) Get(ctx context.Context, id int64) (domain.Product, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", id)

	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// All streams every product, id order. Used by the indexer.
func (c *Catalog) All(ctx context.Context) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("all products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// Upsert inserts or replaces a product. Used by seeds and tests.
func (c *Catalog) Upsert(ctx context.Context, p domain.Product) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, category, in_stock)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			price = excluded.price,
			category = excluded.category,
			in_stock = excluded.in_stock`,
		p.ID, p.Name, p.Description, p.Price, p.Category, boolToInt(p.InStock))
	if err != nil {
		return fmt.Errorf("upsert product %d: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var inStock int
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &inStock); err != nil {
		return domain.Product{}, err
	}
	p.InStock = inStock != 0
	return p, nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
