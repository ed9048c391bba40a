package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents a purchase receipt.
	TransactionTypeIn TransactionType = "IN"
	// TransactionTypeOut represents stock leaving through a sale.
	TransactionTypeOut TransactionType = "OUT"
	// TransactionTypeReturn restocks goods a customer sent back.
	TransactionTypeReturn TransactionType = "RETURN"
	// TransactionTypeAdjust indicates manual adjustments.
	TransactionTypeAdjust TransactionType = "ADJUST"
)

// Transaction models the header of an inventory transaction.
type Transaction struct {
	ID        int64
	Code      string
	Type      TransactionType
	RefModule string
	RefID     string
	Note      string
	PostedAt  time.Time
}

// TransactionLine models each product movement line.
type TransactionLine struct {
	ID            int64
	TransactionID int64
	ProductID     int64
	Qty           float64
	UnitCost      float64
}

// Balance summarises stock per product.
type Balance struct {
	ProductID int64     `json:"productId"`
	Qty       float64   `json:"qty"`
	AvgCost   float64   `json:"avgCost"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StockCardEntry describes one line of a product's stock card.
type StockCardEntry struct {
	TxCode      string          `json:"txCode"`
	TxType      TransactionType `json:"txType"`
	PostedAt    time.Time       `json:"postedAt"`
	QtyIn       float64         `json:"qtyIn"`
	QtyOut      float64         `json:"qtyOut"`
	BalanceQty  float64         `json:"balanceQty"`
	UnitCost    float64         `json:"unitCost"`
	BalanceCost float64         `json:"balanceCost"`
	Note        string          `json:"note"`
}

// MovementInput describes a single-product movement. Qty is always
// positive except for adjustments, where the sign gives the direction.
type MovementInput struct {
	Code      string  `json:"code"`
	ProductID int64   `json:"productId" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required"`
	UnitCost  float64 `json:"unitCost" validate:"gte=0"`
	Note      string  `json:"note" validate:"max=500"`
	Actor     string  `json:"-"`
	RefModule string  `json:"refModule"`
	RefID     string  `json:"refId"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

var (
	// ErrNegativeStock is returned when a movement would push stock below zero.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", httpx.ErrValidation)
	// ErrInvalidQuantity indicates an invalid qty.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", httpx.ErrValidation)
	// ErrInvalidUnitCost indicates an invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", httpx.ErrValidation)
	// ErrProductRequired is returned when no product id was given.
	ErrProductRequired = fmt.Errorf("inventory: product required: %w", httpx.ErrValidation)
	// ErrDuplicateMovement is returned when a movement code was already posted.
	ErrDuplicateMovement = fmt.Errorf("inventory: movement already posted: %w", httpx.ErrDuplicate)
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
)
