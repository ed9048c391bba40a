package profitloss

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UploadMeta describes who uploaded which file.
type UploadMeta struct {
	UploadID   uuid.UUID
	FileName   string
	UploadDate time.Time
	UploadedBy string
	ArchiveKey string
	// IdempotencyKey stays claimed while the sheet is pending.
	IdempotencyKey string
}

// StagingHandle identifies a sheet created in pending state.
type StagingHandle struct {
	UploadID  uuid.UUID
	CreatedAt time.Time
}

// LedgerWriter persists a reconciled upload in two phases.
type LedgerWriter interface {
	BeginUpload(ctx context.Context, meta UploadMeta) (StagingHandle, error)
	CommitUpload(ctx context.Context, handle StagingHandle, sheet UploadedSheet, entries []LedgerEntry) error
}

// RowPatch carries the editable fields of an embedded sheet row.
type RowPatch struct {
	OrderID   *string  `json:"orderId"`
	SKU       *string  `json:"sku"`
	Quantity  *float64 `json:"quantity" validate:"omitempty,gt=0"`
	CostPrice *float64 `json:"costPrice" validate:"omitempty,gte=0"`
	SoldPrice *float64 `json:"soldPrice"`
	Status    *string  `json:"status"`
}

// NewRow is a row appended by hand to a committed sheet. Without a cost the
// SKU is costed from the catalog.
type NewRow struct {
	RowPatch
	Date  *time.Time `json:"date"`
	Actor string     `json:"-"`
}

// BuildSheet snapshots a result as the per-upload summary document. Error
// rows are kept in the snapshot so they can be fixed later.
func BuildSheet(res Result, meta UploadMeta) UploadedSheet {
	rows := make([]SheetRow, 0, len(res.Results))
	for _, r := range res.Results {
		rows = append(rows, SheetRow{
			SNo:           r.SNo,
			OrderID:       r.OrderID,
			SKU:           r.SKU,
			ComboName:     r.ComboName,
			ProductNames:  productNames(r.ProductDetails),
			Quantity:      r.Quantity,
			CostPrice:     r.PurchasePrice,
			SoldPrice:     r.Payment,
			ProfitPerUnit: perUnit(r.Profit, r.Quantity),
			ProfitTotal:   r.Profit,
			Status:        r.Status,
			Date:          r.Date,
			Message:       r.Message,
		})
	}
	return UploadedSheet{
		ID:             meta.UploadID,
		FileName:       meta.FileName,
		UploadDate:     meta.UploadDate,
		UploadedBy:     meta.UploadedBy,
		TotalRecords:   res.Summary.TotalRecords,
		SuccessRecords: res.Summary.SuccessRecords,
		ErrorRecords:   res.Summary.ErrorRecords,
		ProfitSummary:  res.ProfitSummary,
		UploadedData:   rows,
		Status:         SheetCompleted,
		ArchiveKey:     meta.ArchiveKey,
	}
}

// BuildEntries flattens a result into ledger rows, one per sheet row.
func BuildEntries(res Result, meta UploadMeta) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(res.Results))
	for _, r := range res.Results {
		details := r.ProductDetails
		if details == nil {
			details = []ProductDetail{}
		}
		entries = append(entries, LedgerEntry{
			ID:             uuid.New(),
			UploadID:       meta.UploadID,
			RowNo:          r.SNo,
			FileName:       meta.FileName,
			UploadDate:     meta.UploadDate,
			UploadedBy:     meta.UploadedBy,
			OrderID:        r.OrderID,
			SKU:            r.SKU,
			ComboName:      r.ComboName,
			ProductNames:   productNames(details),
			ProductDetails: details,
			Quantity:       r.Quantity,
			PurchasePrice:  r.PurchasePrice,
			Payment:        r.Payment,
			Profit:         r.Profit,
			Status:         r.Status,
			IsError:        r.IsError(),
			PaymentDate:    r.Date,
			Raw:            r.Raw.Map(),
		})
	}
	return entries
}

// ApplyPatch updates a snapshot row and recomputes its profit with rules.
// Patching the status of an error row back to a known status revives it.
func ApplyPatch(row SheetRow, patch RowPatch, rules ProfitRules) SheetRow {
	if patch.OrderID != nil {
		row.OrderID = strings.TrimSpace(*patch.OrderID)
	}
	if patch.SKU != nil {
		row.SKU = strings.TrimSpace(*patch.SKU)
	}
	if patch.Quantity != nil && *patch.Quantity > 0 {
		row.Quantity = *patch.Quantity
	}
	if patch.CostPrice != nil {
		row.CostPrice = Round2(*patch.CostPrice)
	}
	if patch.SoldPrice != nil {
		row.SoldPrice = Round2(*patch.SoldPrice)
	}
	if patch.Status != nil {
		if strings.EqualFold(strings.TrimSpace(*patch.Status), RowStatusError) {
			row.Status = RowStatusError
		} else {
			row.Status = string(NormalizeStatus(*patch.Status))
			row.Message = ""
		}
	}
	if row.IsError() {
		row.ProfitTotal = 0
		row.ProfitPerUnit = 0
		return row
	}
	row.ProfitTotal = Round2(rules.LineProfit(Status(row.Status), row.SoldPrice, row.CostPrice, nil))
	row.ProfitPerUnit = perUnit(row.ProfitTotal, row.Quantity)
	return row
}

// RecomputeSheet rebuilds counters and the profit summary from the embedded
// rows.
func RecomputeSheet(sheet UploadedSheet) UploadedSheet {
	var delivered, rpu, rto decimal.Decimal
	success, failed := 0, 0
	for _, r := range sheet.UploadedData {
		if r.IsError() {
			failed++
			continue
		}
		success++
		p := decimal.NewFromFloat(r.ProfitTotal)
		switch NormalizeStatus(r.Status) {
		case StatusRTO:
			rto = rto.Add(p)
		case StatusRPU:
			rpu = rpu.Add(p)
		default:
			delivered = delivered.Add(p)
		}
	}
	total := decFloat(delivered.Add(rpu).Add(rto).Round(2))
	sheet.TotalRecords = len(sheet.UploadedData)
	sheet.SuccessRecords = success
	sheet.ErrorRecords = failed
	sheet.ProfitSummary = ProfitSummary{
		TotalProfit:     total,
		DeliveredProfit: decFloat(delivered.Round(2)),
		RPUProfit:       decFloat(rpu.Round(2)),
		RTOProfit:       decFloat(rto.Round(2)),
		NetProfit:       total,
	}
	return sheet
}

// EntryFromSheetRow projects an edited snapshot row back onto its ledger
// entry.
func EntryFromSheetRow(entry LedgerEntry, row SheetRow) LedgerEntry {
	entry.OrderID = row.OrderID
	entry.SKU = row.SKU
	entry.Quantity = row.Quantity
	entry.PurchasePrice = row.CostPrice
	entry.Payment = row.SoldPrice
	entry.Profit = row.ProfitTotal
	entry.Status = row.Status
	entry.IsError = row.IsError()
	return entry
}

func productNames(details []ProductDetail) string {
	names := make([]string, 0, len(details))
	for _, d := range details {
		if d.Name != "" {
			names = append(names, d.Name)
		}
	}
	return strings.Join(names, ", ")
}

func perUnit(total, qty float64) float64 {
	if qty == 0 {
		return 0
	}
	return Round2(total / qty)
}
