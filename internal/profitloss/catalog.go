package profitloss

import (
	"context"
	"strings"
)

// MatchMode selects how identifiers are compared.
type MatchMode int

const (
	// MatchExact compares the identifier verbatim.
	MatchExact MatchMode = iota
	// MatchContains is a case-insensitive substring comparison.
	MatchContains
)

// CatalogReader is the read port onto the product catalog.
type CatalogReader interface {
	// FindCombo matches code, then name, then barcode.
	FindCombo(ctx context.Context, ident string, mode MatchMode) (Combo, bool, error)
	FindProductByBarcode(ctx context.Context, ident string, mode MatchMode) (Product, bool, error)
	FindProductByID(ctx context.Context, id int64) (Product, bool, error)
	FindComboContainingProduct(ctx context.Context, productID int64) (Combo, bool, error)
	// LatestPurchaseUnitCost returns the most recently recorded purchase cost.
	LatestPurchaseUnitCost(ctx context.Context, productID int64) (float64, bool, error)
}

// MatchKind tags the CatalogMatch variant.
type MatchKind string

const (
	MatchCombo            MatchKind = "combo"
	MatchSyntheticProduct MatchKind = "product"
)

// CatalogMatch is either a real combo or a bare product treated as a
// single-line bundle.
type CatalogMatch struct {
	Kind    MatchKind
	Combo   Combo
	Product Product
}

// ComboMatch wraps a combo.
func ComboMatch(c Combo) CatalogMatch {
	return CatalogMatch{Kind: MatchCombo, Combo: c}
}

// ProductMatch wraps a bare product.
func ProductMatch(p Product) CatalogMatch {
	return CatalogMatch{Kind: MatchSyntheticProduct, Product: p}
}

// Name returns the display name of the match.
func (m CatalogMatch) Name() string {
	switch m.Kind {
	case MatchCombo:
		return m.Combo.Name
	case MatchSyntheticProduct:
		return m.Product.Name
	}
	return ""
}

// Price returns the catalog selling price used by the cost fallback.
func (m CatalogMatch) Price() float64 {
	switch m.Kind {
	case MatchCombo:
		return m.Combo.Price
	case MatchSyntheticProduct:
		return m.Product.Price
	}
	return 0
}

// Lines returns the bill of materials. Synthetic matches have one line.
func (m CatalogMatch) Lines() []ComboLine {
	switch m.Kind {
	case MatchCombo:
		return m.Combo.Lines
	case MatchSyntheticProduct:
		return []ComboLine{{Product: m.Product, Quantity: 1}}
	}
	return nil
}

// Resolver finds the catalog entry behind a spreadsheet identifier.
type Resolver struct {
	catalog CatalogReader
}

// NewResolver constructs a Resolver.
func NewResolver(catalog CatalogReader) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve tries combos (exact, then contains), then products by barcode,
// then a combo containing that product, and finally the product alone.
func (r *Resolver) Resolve(ctx context.Context, ident string) (CatalogMatch, bool, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" || r == nil || r.catalog == nil {
		return CatalogMatch{}, false, nil
	}
	for _, mode := range []MatchMode{MatchExact, MatchContains} {
		combo, ok, err := r.catalog.FindCombo(ctx, ident, mode)
		if err != nil {
			return CatalogMatch{}, false, err
		}
		if ok {
			return ComboMatch(combo), true, nil
		}
	}
	var (
		product Product
		found   bool
	)
	for _, mode := range []MatchMode{MatchExact, MatchContains} {
		p, ok, err := r.catalog.FindProductByBarcode(ctx, ident, mode)
		if err != nil {
			return CatalogMatch{}, false, err
		}
		if ok {
			product, found = p, true
			break
		}
	}
	if !found {
		return CatalogMatch{}, false, nil
	}
	combo, ok, err := r.catalog.FindComboContainingProduct(ctx, product.ID)
	if err != nil {
		return CatalogMatch{}, false, err
	}
	if ok {
		return ComboMatch(combo), true, nil
	}
	if product.Name == "" {
		product.Name = ident
	}
	return ProductMatch(product), true, nil
}
