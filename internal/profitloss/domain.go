package profitloss

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// Status is the delivery outcome of a settled order.
type Status string

const (
	// StatusDelivered marks a completed sale.
	StatusDelivered Status = "delivered"
	// StatusRPU marks an order returned by the customer, pending re-use or claim.
	StatusRPU Status = "rpu"
	// StatusRTO marks an order returned to origin before delivery.
	StatusRTO Status = "rto"
)

// RowStatusError is the status reported for rows excluded from totals.
const RowStatusError = "Error"

// RowOutcome records which reconciliation state a row ended in.
type RowOutcome string

const (
	OutcomeResolved       RowOutcome = "resolved"
	OutcomeSkuMissing     RowOutcome = "sku_missing"
	OutcomeCatalogMissing RowOutcome = "catalog_missing"
	OutcomeError          RowOutcome = "error"
)

// SheetStatus tracks the lifecycle of an uploaded sheet.
type SheetStatus string

const (
	SheetPending   SheetStatus = "pending"
	SheetProcessed SheetStatus = "processed"
	SheetCompleted SheetStatus = "completed"
)

// Valid reports whether the status is known.
func (s SheetStatus) Valid() bool {
	switch s {
	case SheetPending, SheetProcessed, SheetCompleted:
		return true
	}
	return false
}

// Product is the catalog view used for costing.
type Product struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Barcode string  `json:"barcode"`
	Price   float64 `json:"price"`
}

// ComboLine is one bill-of-materials entry.
type ComboLine struct {
	Product  Product `json:"product"`
	Quantity float64 `json:"quantity"`
}

// Combo is a bundle of products sold under one identifier.
type Combo struct {
	ID       int64       `json:"id"`
	Code     string      `json:"code"`
	Name     string      `json:"name"`
	Barcode  string      `json:"barcode"`
	Price    float64     `json:"price"`
	Lines    []ComboLine `json:"lines"`
	IsActive bool        `json:"isActive"`
	IsMapped bool        `json:"isMapped"`
}

// ProductDetail is the per-product cost breakdown of a row.
type ProductDetail struct {
	ProductID  int64   `json:"productId,omitempty"`
	Name       string  `json:"name"`
	Barcode    string  `json:"barcode"`
	Quantity   float64 `json:"quantity"`
	UnitCost   float64 `json:"unitCost"`
	TotalCost  float64 `json:"totalCost"`
	CostSource string  `json:"costSource,omitempty"`
}

// RowResult is the reconciliation outcome of one spreadsheet row.
type RowResult struct {
	SNo            int             `json:"sNo"`
	OrderID        string          `json:"orderId"`
	SKU            string          `json:"skuId"`
	Date           *time.Time      `json:"date"`
	PaymentDateRaw any             `json:"paymentDateRaw"`
	Quantity       float64         `json:"quantity"`
	PurchasePrice  float64         `json:"purchasePrice"`
	Payment        float64         `json:"payment"`
	Profit         float64         `json:"profit"`
	Status         string          `json:"status"`
	ComboName      string          `json:"comboName"`
	ProductDetails []ProductDetail `json:"productDetails"`
	Message        string          `json:"message,omitempty"`
	Outcome        RowOutcome      `json:"outcome"`
	Raw            Row             `json:"raw,omitempty"`
}

// IsError reports whether the row is excluded from totals.
func (r RowResult) IsError() bool {
	return r.Status == RowStatusError
}

// Err maps the row outcome to its sentinel error, nil when resolved.
func (r RowResult) Err() error {
	switch r.Outcome {
	case OutcomeSkuMissing:
		return ErrMissingIdentifier
	case OutcomeCatalogMissing:
		return ErrCatalogNotFound
	case OutcomeError:
		return ErrComputation
	}
	return nil
}

// Totals are the batch sums over non-error rows.
type Totals struct {
	TotalQuantity      float64 `json:"totalQuantity"`
	TotalPurchasePrice float64 `json:"totalPurchasePrice"`
	TotalPayment       float64 `json:"totalPayment"`
	TotalProfit        float64 `json:"totalProfit"`
}

// RecordSummary counts rows by outcome.
type RecordSummary struct {
	TotalRecords   int `json:"totalRecords"`
	SuccessRecords int `json:"successRecords"`
	ErrorRecords   int `json:"errorRecords"`
}

// ProfitSummary splits profit by status bucket.
type ProfitSummary struct {
	TotalProfit     float64 `json:"totalProfit"`
	DeliveredProfit float64 `json:"deliveredProfit"`
	RPUProfit       float64 `json:"rpuProfit"`
	RTOProfit       float64 `json:"rtoProfit"`
	NetProfit       float64 `json:"netProfit"`
}

// Result is returned to callers of an upload.
type Result struct {
	UploadID      uuid.UUID     `json:"uploadId"`
	FileName      string        `json:"fileName,omitempty"`
	Results       []RowResult   `json:"results"`
	Totals        Totals        `json:"totals"`
	Summary       RecordSummary `json:"summary"`
	ProfitSummary ProfitSummary `json:"profitSummary"`
}

// SheetRow is the snapshot of a row embedded in an UploadedSheet.
type SheetRow struct {
	SNo           int        `json:"sNo"`
	OrderID       string     `json:"orderId"`
	SKU           string     `json:"sku"`
	ComboName     string     `json:"comboName"`
	ProductNames  string     `json:"productNames"`
	Quantity      float64    `json:"quantity"`
	CostPrice     float64    `json:"costPrice"`
	SoldPrice     float64    `json:"soldPrice"`
	ProfitPerUnit float64    `json:"profitPerUnit"`
	ProfitTotal   float64    `json:"profitTotal"`
	Status        string     `json:"status"`
	Date          *time.Time `json:"date"`
	Message       string     `json:"message,omitempty"`
}

// IsError reports whether the snapshot row is excluded from totals.
func (r SheetRow) IsError() bool {
	return r.Status == RowStatusError
}

// UploadedSheet is the per-upload summary document.
type UploadedSheet struct {
	ID             uuid.UUID     `json:"id"`
	FileName       string        `json:"fileName"`
	UploadDate     time.Time     `json:"uploadDate"`
	UploadedBy     string        `json:"uploadedBy"`
	TotalRecords   int           `json:"totalRecords"`
	SuccessRecords int           `json:"successRecords"`
	ErrorRecords   int           `json:"errorRecords"`
	ProfitSummary  ProfitSummary `json:"profitSummary"`
	UploadedData   []SheetRow    `json:"uploadedData"`
	Status         SheetStatus   `json:"status"`
	Notes          string        `json:"notes"`
	ArchiveKey     string        `json:"archiveKey,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// LedgerEntry is one flattened ledger row.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	UploadID       uuid.UUID       `json:"uploadId"`
	RowNo          int             `json:"rowNo"`
	FileName       string          `json:"fileName"`
	UploadDate     time.Time       `json:"uploadDate"`
	UploadedBy     string          `json:"uploadedBy"`
	OrderID        string          `json:"orderId"`
	SKU            string          `json:"sku"`
	ComboName      string          `json:"comboName"`
	ProductNames   string          `json:"productNames"`
	ProductDetails []ProductDetail `json:"productDetails"`
	Quantity       float64         `json:"quantity"`
	PurchasePrice  float64         `json:"purchasePrice"`
	Payment        float64         `json:"payment"`
	Profit         float64         `json:"profit"`
	Status         string          `json:"status"`
	IsError        bool            `json:"isError"`
	PaymentDate    *time.Time      `json:"paymentDate"`
	Raw            map[string]any  `json:"raw,omitempty"`
}

// RTOCategory classifies returned stock.
type RTOCategory string

const (
	CategoryRTO RTOCategory = "RTO"
	CategoryRPU RTOCategory = "RPU"
)

// RTOProduct tracks a returned product line.
type RTOProduct struct {
	ID          uuid.UUID   `json:"id"`
	ProductID   int64       `json:"productId,omitempty"`
	ProductName string      `json:"productName"`
	Barcode     string      `json:"barcode"`
	Category    RTOCategory `json:"category"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	TotalValue  float64     `json:"totalValue"`
	Status      string      `json:"status"`
	Reason      string      `json:"reason"`
	Notes       string      `json:"notes"`
	AddedBy     string      `json:"addedBy"`
	Source      string      `json:"source"`
	UploadID    *uuid.UUID  `json:"uploadId,omitempty"`
	DateAdded   time.Time   `json:"dateAdded"`
}

// EntryFilter narrows ledger queries.
type EntryFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	SKU       string
	OrderID   string
	Status    string
	Limit     int
}

// RangeFilter bounds reporting queries by payment date.
type RangeFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	IncludeSales bool
}

// UploadFilter narrows the upload list.
type UploadFilter struct {
	Status    SheetStatus
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// RTOInput records a returned product by hand.
type RTOInput struct {
	ProductID int64       `json:"productId" validate:"required,gt=0"`
	Category  RTOCategory `json:"category"`
	Quantity  float64     `json:"quantity" validate:"omitempty,gt=0"`
	Reason    string      `json:"reason" validate:"max=500"`
	Notes     string      `json:"notes" validate:"max=2000"`
	DateAdded *time.Time  `json:"dateAdded"`
	Actor     string      `json:"-"`
}

// RTOFilter narrows the returned products list.
type RTOFilter struct {
	Category RTOCategory
	Search   string
	Limit    int
}

var (
	// ErrMissingIdentifier marks rows without any resolvable SKU text.
	ErrMissingIdentifier = errors.New("profitloss: missing identifier")
	// ErrCatalogNotFound marks rows whose identifier matched nothing.
	ErrCatalogNotFound = errors.New("profitloss: catalog entry not found")
	// ErrComputation marks rows that failed unexpectedly.
	ErrComputation = errors.New("profitloss: computation failed")

	ErrUploadNotFound  = fmt.Errorf("profitloss: upload %w", httpx.ErrNotFound)
	ErrRowNotFound     = fmt.Errorf("profitloss: row %w", httpx.ErrNotFound)
	ErrEmptySheet      = fmt.Errorf("profitloss: no data rows: %w", httpx.ErrValidation)
	ErrDuplicateUpload = fmt.Errorf("profitloss: upload already processed: %w", httpx.ErrDuplicate)
	ErrNotStaged       = fmt.Errorf("profitloss: upload is not pending: %w", httpx.ErrValidation)
	ErrSheetPending    = fmt.Errorf("profitloss: upload is still pending: %w", httpx.ErrValidation)
	ErrProductNotFound = fmt.Errorf("profitloss: product %w", httpx.ErrNotFound)
	ErrRTONotFound     = fmt.Errorf("profitloss: returned product %w", httpx.ErrNotFound)
)

// BatchPersistenceError is returned when the computed result could not be
// saved. Result holds every row so the caller can retry the save.
type BatchPersistenceError struct {
	Result Result
	Err    error
}

func (e *BatchPersistenceError) Error() string {
	return fmt.Sprintf("profitloss: persist upload %s: %v", e.Result.UploadID, e.Err)
}

func (e *BatchPersistenceError) Unwrap() error {
	return e.Err
}
