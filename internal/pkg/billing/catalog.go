package billing

import (
	"strings"

	"github.com/shoplium/shoplium/internal/pkg/env"
)

// Catalog is the static mapping from provider product/price identifiers to
// internal plan names. Loaded once at startup; no lifecycle.
type Catalog struct {
	byProduct map[string]string
}

// NewCatalog builds a catalog from an explicit product -> plan mapping.
func NewCatalog(entries map[string]string) *Catalog {
	byProduct := make(map[string]string, len(entries))
	for product, plan := range entries {
		product = strings.TrimSpace(product)
		plan = strings.TrimSpace(plan)
		if product == "" || plan == "" {
			continue
		}
		byProduct[product] = plan
	}
	return &Catalog{byProduct: byProduct}
}

// defaultCatalogEntries covers the stock storefront tiers. PLAN_CATALOG
// entries override and extend these.
var defaultCatalogEntries = map[string]string{
	"prod_royal":    "Royal",
	"prod_majestic": "Majestic",
	"prod_imperial": "Imperial",
}

// NewCatalogFromEnv parses PLAN_CATALOG, a comma-separated list of
// "productId:planName" pairs, e.g.
//
//	PLAN_CATALOG=prod_royal:Royal,prod_majestic:Majestic
func NewCatalogFromEnv() *Catalog {
	entries := make(map[string]string, len(defaultCatalogEntries))
	for product, plan := range defaultCatalogEntries {
		entries[product] = plan
	}
	raw := env.GetEnv("PLAN_CATALOG", "")
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		entries[parts[0]] = parts[1]
	}
	return NewCatalog(entries)
}

// PlanForProduct resolves a provider product id to an internal plan name.
func (c *Catalog) PlanForProduct(productID string) (string, bool) {
	plan, ok := c.byProduct[strings.TrimSpace(productID)]
	return plan, ok
}

// Size returns the number of catalog entries.
func (c *Catalog) Size() int {
	return len(c.byProduct)
}
