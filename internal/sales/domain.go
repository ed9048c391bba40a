// Package sales records counter sales and customer returns.
package sales

import (
	"fmt"
	"time"

	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
)

// Status tracks what happened to a sale after it was rung up.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusRPU       Status = "rpu"
	StatusRTO       Status = "rto"
)

// ItemType tags a sale line.
type ItemType string

const (
	ItemProduct ItemType = "product"
	ItemCombo   ItemType = "combo"
)

// Sale is a recorded sale with its lines.
type Sale struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	CustomerName string     `json:"customerName"`
	SaleDate     time.Time  `json:"saleDate"`
	Status       Status     `json:"status"`
	Total        float64    `json:"total"`
	Items        []SaleItem `json:"items"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// SaleItem is one scanned line. UnitCost is the purchase cost per unit at
// the time of sale; combos carry the cost of their whole bill of materials.
type SaleItem struct {
	ID        int64    `json:"id"`
	ItemType  ItemType `json:"itemType"`
	ProductID *int64   `json:"productId,omitempty"`
	ComboID   *int64   `json:"comboId,omitempty"`
	Name      string   `json:"name"`
	Barcode   string   `json:"barcode"`
	Quantity  float64  `json:"quantity"`
	UnitPrice float64  `json:"unitPrice"`
	UnitCost  float64  `json:"unitCost"`
	Total     float64  `json:"total"`
}

// SaleItemInput is a scanned line of a new sale.
type SaleItemInput struct {
	Barcode   string   `json:"barcode" validate:"required,max=64"`
	Quantity  float64  `json:"quantity" validate:"gt=0"`
	UnitPrice *float64 `json:"unitPrice,omitempty" validate:"omitempty,gte=0"`
}

// CreateSaleInput is the payload of CreateSale.
type CreateSaleInput struct {
	Code         string          `json:"code" validate:"max=40"`
	CustomerName string          `json:"customerName" validate:"max=160"`
	SaleDate     *time.Time      `json:"saleDate,omitempty"`
	Items        []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Actor        string          `json:"-"`
}

// Return records goods coming back from a customer or courier.
type Return struct {
	ID         int64                  `json:"id"`
	Code       string                 `json:"code"`
	SaleID     *int64                 `json:"saleId,omitempty"`
	Category   profitloss.RTOCategory `json:"category"`
	Reason     string                 `json:"reason"`
	ReturnDate time.Time              `json:"returnDate"`
	Items      []ReturnItem           `json:"items"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// ReturnItem is a returned product quantity. Combos are expanded on entry.
type ReturnItem struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Barcode   string  `json:"barcode"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// ReturnItemInput identifies a returned product or combo by barcode.
type ReturnItemInput struct {
	Barcode  string  `json:"barcode" validate:"required,max=64"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

// CreateReturnInput is the payload of CreateReturn.
type CreateReturnInput struct {
	Code       string            `json:"code" validate:"max=40"`
	SaleID     *int64            `json:"saleId,omitempty" validate:"omitempty,gt=0"`
	Category   string            `json:"category" validate:"required,oneof=RTO RPU rto rpu"`
	Reason     string            `json:"reason" validate:"max=500"`
	ReturnDate *time.Time        `json:"returnDate,omitempty"`
	Items      []ReturnItemInput `json:"items" validate:"required,min=1,dive"`
	Actor      string            `json:"-"`
}

// SaleFilter narrows sale listings. A zero Limit means no limit.
type SaleFilter struct {
	From   *time.Time
	To     *time.Time
	Status Status
	Limit  int
}

var (
	// ErrNotFound wraps the http sentinel for missing sales.
	ErrNotFound = fmt.Errorf("sales: %w", httpx.ErrNotFound)
	// ErrInsufficientStock is returned when a sale would drive stock negative.
	ErrInsufficientStock = fmt.Errorf("sales: insufficient stock: %w", httpx.ErrValidation)
	// ErrUnmappedCombo is returned when a combo without a bill of materials is sold.
	ErrUnmappedCombo = fmt.Errorf("sales: combo has no products mapped: %w", httpx.ErrValidation)
	// ErrDuplicateCode is returned when a sale or return code is reused.
	ErrDuplicateCode = fmt.Errorf("sales: code already used: %w", httpx.ErrDuplicate)
)
