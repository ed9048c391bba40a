// Package catalog manages vendors, products, combos and purchase history.
package catalog

import (
	"fmt"
	"time"

	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
)

// Vendor supplies products.
type Vendor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=120"`
	Contact   string    `json:"contact" validate:"max=120"`
	Phone     string    `json:"phone" validate:"max=40"`
	Email     string    `json:"email" validate:"omitempty,email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Category groups products and combos.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=80"`
	CreatedAt time.Time `json:"createdAt"`
}

// Product is a single stock keeping unit.
type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name" validate:"required,max=160"`
	Barcode    string    `json:"barcode" validate:"max=64"`
	Price      float64   `json:"price" validate:"gte=0"`
	Quantity   float64   `json:"quantity"`
	CategoryID *int64    `json:"categoryId,omitempty"`
	VendorID   *int64    `json:"vendorId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ComboLine is one entry of a combo's bill of materials.
type ComboLine struct {
	ProductID int64    `json:"productId" validate:"required,gt=0"`
	Product   *Product `json:"product,omitempty"`
	Quantity  float64  `json:"quantity" validate:"gte=1"`
}

// Combo bundles products under one sellable code. A combo without lines
// is unmapped.
type Combo struct {
	ID         int64       `json:"id"`
	Code       string      `json:"code" validate:"required,max=64"`
	Name       string      `json:"name" validate:"required,max=160"`
	Barcode    string      `json:"barcode" validate:"max=64"`
	Price      float64     `json:"price" validate:"gte=0"`
	CategoryID *int64      `json:"categoryId,omitempty"`
	Lines      []ComboLine `json:"lines" validate:"dive"`
	IsActive   bool        `json:"isActive"`
	IsMapped   bool        `json:"isMapped"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

func (p Product) reconciliation() profitloss.Product {
	return profitloss.Product{ID: p.ID, Name: p.Name, Barcode: p.Barcode, Price: p.Price}
}

func (c Combo) reconciliation() profitloss.Combo {
	lines := make([]profitloss.ComboLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		product := profitloss.Product{ID: l.ProductID}
		if l.Product != nil {
			product = l.Product.reconciliation()
		}
		lines = append(lines, profitloss.ComboLine{Product: product, Quantity: l.Quantity})
	}
	return profitloss.Combo{
		ID:       c.ID,
		Code:     c.Code,
		Name:     c.Name,
		Barcode:  c.Barcode,
		Price:    c.Price,
		Lines:    lines,
		IsActive: c.IsActive,
		IsMapped: c.IsMapped,
	}
}

// PurchaseLine is one received product.
type PurchaseLine struct {
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	UnitCost  float64 `json:"unitCost" validate:"gte=0"`
}

// Purchase records goods bought from a vendor.
type Purchase struct {
	ID          int64          `json:"id"`
	VendorID    *int64         `json:"vendorId,omitempty"`
	Reference   string         `json:"reference" validate:"max=80"`
	PurchasedAt time.Time      `json:"purchasedAt"`
	Lines       []PurchaseLine `json:"lines" validate:"required,min=1,dive"`
	TotalAmount float64        `json:"totalAmount"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ScanKind tags what a scanned code resolved to.
type ScanKind string

const (
	ScanProduct ScanKind = "product"
	ScanCombo   ScanKind = "combo"
)

// ScanResult is the outcome of a barcode lookup.
type ScanResult struct {
	Kind    ScanKind `json:"kind"`
	Product *Product `json:"product,omitempty"`
	Combo   *Combo   `json:"combo,omitempty"`
}

// Name returns the display name of the scanned item.
func (s ScanResult) Name() string {
	if s.Combo != nil {
		return s.Combo.Name
	}
	if s.Product != nil {
		return s.Product.Name
	}
	return ""
}

// Price returns the catalog price of the scanned item.
func (s ScanResult) Price() float64 {
	if s.Combo != nil {
		return s.Combo.Price
	}
	if s.Product != nil {
		return s.Product.Price
	}
	return 0
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search     string
	CategoryID int64
	VendorID   int64
	Limit      int
}

// ComboFilter narrows combo listings.
type ComboFilter struct {
	Search          string
	IncludeInactive bool
	UnmappedOnly    bool
	Limit           int
}

// ImportRowError explains why an imported row was skipped.
type ImportRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult summarises a combo import.
type ImportResult struct {
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Skipped []ImportRowError `json:"skipped"`
}

var (
	// ErrNotFound wraps the http not found sentinel for catalog lookups.
	ErrNotFound = fmt.Errorf("catalog: %w", httpx.ErrNotFound)
	// ErrDuplicateBarcode is returned when a barcode or combo code is taken.
	ErrDuplicateBarcode = fmt.Errorf("catalog: barcode or code already in use: %w", httpx.ErrDuplicate)
	// ErrInvalidComboLine flags a bill of materials that references unknown
	// products or repeats one.
	ErrInvalidComboLine = fmt.Errorf("catalog: invalid combo line: %w", httpx.ErrValidation)
	// ErrEmptyImport is returned when an import file has no usable rows.
	ErrEmptyImport = fmt.Errorf("catalog: import has no combo rows: %w", httpx.ErrValidation)
)
