package profitloss

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleResult(t *testing.T) (Result, UploadMeta) {
	t.Helper()
	meta := UploadMeta{UploadID: uuid.New(), FileName: "jan.xlsx", UploadDate: fixedClock(), UploadedBy: "ops"}
	rows := gridRows(settlementHeaders,
		[]any{"A-1", "COMBO-1", 2, 1000, "Delivered", "2024-01-15"},
		[]any{"A-2", "UNKNOWN-X", 1, 500, "Delivered", "2024-01-16"},
	)
	r := newTestReconciler(seededCatalog(), nil, DefaultReconcilerConfig())
	res, err := r.Reconcile(t.Context(), ReconcileInput{UploadID: meta.UploadID, FileName: meta.FileName, Rows: rows})
	require.NoError(t, err)
	return res, meta
}

func TestBuildSheetAndEntries(t *testing.T) {
	res, meta := sampleResult(t)

	sheet := BuildSheet(res, meta)
	require.Equal(t, meta.UploadID, sheet.ID)
	require.Equal(t, SheetCompleted, sheet.Status)
	require.Equal(t, 2, sheet.TotalRecords)
	require.Equal(t, 1, sheet.ErrorRecords)
	require.Len(t, sheet.UploadedData, 2)

	first := sheet.UploadedData[0]
	require.Equal(t, "Cotton Saree, Silk Dupatta", first.ProductNames)
	require.Equal(t, 600.0, first.CostPrice)
	require.Equal(t, 1000.0, first.SoldPrice)
	require.Equal(t, 400.0, first.ProfitTotal)
	require.Equal(t, 200.0, first.ProfitPerUnit)

	entries := BuildEntries(res, meta)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].RowNo)
	require.False(t, entries[0].IsError)
	require.True(t, entries[1].IsError)
	require.Equal(t, "COMBO-1", entries[0].Raw["SKU"])
	require.NotNil(t, entries[1].ProductDetails)
	require.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestApplyPatchRecomputesProfit(t *testing.T) {
	rules := ProfitRules{RTO: RTOPolicyNegativeCost}
	row := SheetRow{SNo: 1, Quantity: 2, CostPrice: 600, SoldPrice: 1000, ProfitTotal: 400, Status: "delivered"}

	status := "Returned"
	patched := ApplyPatch(row, RowPatch{Status: &status}, rules)
	require.Equal(t, "rpu", patched.Status)
	require.Equal(t, -400.0, patched.ProfitTotal)
	require.Equal(t, -200.0, patched.ProfitPerUnit)

	status = "RTO"
	patched = ApplyPatch(row, RowPatch{Status: &status}, rules)
	require.Equal(t, -600.0, patched.ProfitTotal)

	sold := 750.555
	patched = ApplyPatch(row, RowPatch{SoldPrice: &sold}, rules)
	require.Equal(t, 750.56, patched.SoldPrice)
	require.Equal(t, 150.56, patched.ProfitTotal)
}

func TestApplyPatchErrorTransitions(t *testing.T) {
	rules := ProfitRules{RTO: RTOPolicyNegativeCost}
	row := SheetRow{SNo: 2, Quantity: 1, SoldPrice: 500, Status: RowStatusError, Message: "not found"}

	cost := 320.0
	still := ApplyPatch(row, RowPatch{CostPrice: &cost}, rules)
	require.True(t, still.IsError())
	require.Zero(t, still.ProfitTotal)

	status := "delivered"
	revived := ApplyPatch(row, RowPatch{CostPrice: &cost, Status: &status}, rules)
	require.False(t, revived.IsError())
	require.Empty(t, revived.Message)
	require.Equal(t, 180.0, revived.ProfitTotal)

	status = "error"
	broken := ApplyPatch(revived, RowPatch{Status: &status}, rules)
	require.True(t, broken.IsError())
	require.Zero(t, broken.ProfitTotal)
}

func TestRecomputeSheet(t *testing.T) {
	sheet := UploadedSheet{UploadedData: []SheetRow{
		{Status: "delivered", ProfitTotal: 0.1},
		{Status: "delivered", ProfitTotal: 0.2},
		{Status: "rpu", ProfitTotal: -50},
		{Status: "rto", ProfitTotal: -20},
		{Status: RowStatusError},
	}}
	got := RecomputeSheet(sheet)
	require.Equal(t, 5, got.TotalRecords)
	require.Equal(t, 4, got.SuccessRecords)
	require.Equal(t, 1, got.ErrorRecords)
	require.Equal(t, ProfitSummary{TotalProfit: -69.7, DeliveredProfit: 0.3, RPUProfit: -50, RTOProfit: -20, NetProfit: -69.7}, got.ProfitSummary)
}

func TestEntryFromSheetRow(t *testing.T) {
	entry := LedgerEntry{ID: uuid.New(), RowNo: 1, Status: "delivered", Profit: 200}
	got := EntryFromSheetRow(entry, SheetRow{SNo: 1, Status: RowStatusError, SKU: "X"})
	require.Equal(t, entry.ID, got.ID)
	require.True(t, got.IsError)
	require.Equal(t, "X", got.SKU)
	require.Zero(t, got.Profit)
}
