package catalog

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/boltworks/storefront/internal/domain"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), ":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func seed(t *testing.T, c *Catalog, products ...domain.Product) {
	t.Helper()
	for _, p := range products {
		if err := c.Upsert(context.Background(), p); err != nil {
			t.Fatalf("seed product %d: %v", p.ID, err)
		}
	}
}

func TestCatalog_ListOrderedByID(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c,
		domain.Product{ID: 3, Name: "wrench", InStock: true},
		domain.Product{ID: 1, Name: "bolt", InStock: true},
		domain.Product{ID: 2, Name: "nut", InStock: true},
	)

	products, err := c.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(products) != 3 {
		t.Fatalf("got %d products, expected 3", len(products))
	}
	for i, want := range []int64{1, 2, 3} {
		if products[i].ID != want {
			t.Errorf("products[%d].ID = %d, expected %d", i, products[i].ID, want)
		}
	}
}

func TestCatalog_ListRespectsLimit(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c,
		domain.Product{ID: 1, Name: "a"},
		domain.Product{ID: 2, Name: "b"},
		domain.Product{ID: 3, Name: "c"},
	)

	products, err := c.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(products) != 2 {
		t.Errorf("got %d products, expected 2", len(products))
	}
}

func TestCatalog_KeywordSearch_NameRanksFirst(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c,
		domain.Product{ID: 1, Name: "toolbox", Description: "holds every bolt you own"},
		domain.Product{ID: 2, Name: "steel bolt", Description: "M8 hex"},
	)

	products, err := c.KeywordSearch(context.Background(), "bolt", 10)
	if err != nil {
		t.Fatalf("KeywordSearch failed: %v", err)
	}

	if len(products) != 2 {
		t.Fatalf("got %d products, expected 2", len(products))
	}
	// Name match outranks the description-only match despite higher id
	if products[0].ID != 2 || products[1].ID != 1 {
		t.Errorf("unexpected order: %d, %d", products[0].ID, products[1].ID)
	}
}

func TestCatalog_KeywordSearch_EscapesWildcards(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c,
		domain.Product{ID: 1, Name: "100% cotton shirt"},
		domain.Product{ID: 2, Name: "anything"},
	)

	products, err := c.KeywordSearch(context.Background(), "100%", 10)
	if err != nil {
		t.Fatalf("KeywordSearch failed: %v", err)
	}
	if len(products) != 1 || products[0].ID != 1 {
		t.Errorf("wildcard not escaped, got %+v", products)
	}
}

func TestCatalog_KeywordSearch_NoMatches(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c, domain.Product{ID: 1, Name: "bolt"})

	products, err := c.KeywordSearch(context.Background(), "xyzzy", 10)
	if err != nil {
		t.Fatalf("KeywordSearch failed: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("expected empty result, got %+v", products)
	}
}

func TestCatalog_ProductsByID(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c,
		domain.Product{ID: 1, Name: "bolt"},
		domain.Product{ID: 2, Name: "nut"},
	)

	products, err := c.ProductsByID(context.Background(), []int64{2, 99, 1})
	if err != nil {
		t.Fatalf("ProductsByID failed: %v", err)
	}

	if len(products) != 2 {
		t.Fatalf("got %d products, expected 2", len(products))
	}
	if _, ok := products[99]; ok {
		t.Error("missing id must be absent, not zero-valued")
	}
	if products[1].Name != "bolt" || products[2].Name != "nut" {
		t.Errorf("unexpected products: %+v", products)
	}
}

func TestCatalog_ProductsByID_Empty(t *testing.T) {
	c := newTestCatalog(t)

	products, err := c.ProductsByID(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProductsByID failed: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("expected empty map, got %+v", products)
	}
}

func TestCatalog_Get(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c, domain.Product{ID: 5, Name: "drill", Price: 79.90, Category: "power tools", InStock: true})

	p, err := c.Get(context.Background(), 5)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "drill" || p.Price != 79.90 || !p.InStock {
		t.Errorf("unexpected product: %+v", p)
	}

	if _, err := c.Get(context.Background(), 404); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCatalog_UpsertReplaces(t *testing.T) {
	c := newTestCatalog(t)
	seed(t, c, domain.Product{ID: 1, Name: "bolt", Price: 1.00})
	seed(t, c, domain.Product{ID: 1, Name: "bolt M8", Price: 1.50})

	p, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "bolt M8" || p.Price != 1.50 {
		t.Errorf("upsert did not replace: %+v", p)
	}

	all, err := c.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 product after upsert, got %d", len(all))
	}
}
