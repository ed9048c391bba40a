package profitloss

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var settlementHeaders = []any{"Order ID", "SKU", "Quantity", "Payment", "Status", "Payment Date"}

func newTestReconciler(catalog CatalogReader, rto RTORecorder, cfg ReconcilerConfig) *Reconciler {
	r := NewReconciler(cfg, catalog, rto, nil, nil)
	r.WithNow(fixedClock)
	return r
}

func TestReconcileSettlementSheet(t *testing.T) {
	rto := &memoryRTO{}
	r := newTestReconciler(seededCatalog(), rto, DefaultReconcilerConfig())
	uploadID := uuid.New()
	rows := gridRows(settlementHeaders,
		[]any{"A-1", "COMBO-1", 1, 500, "Delivered", "2024-01-15"},
		[]any{"A-2", "COMBO-1", 1, 500, "RPU", "2024-01-20"},
		[]any{"A-3", "UNKNOWN-X", 1, 500, "Delivered", "2024-01-21"},
	)

	res, err := r.Reconcile(context.Background(), ReconcileInput{UploadID: uploadID, FileName: "jan.xlsx", Rows: rows})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	delivered := res.Results[0]
	require.Equal(t, OutcomeResolved, delivered.Outcome)
	require.Equal(t, "delivered", delivered.Status)
	require.Equal(t, 300.0, delivered.PurchasePrice)
	require.Equal(t, 200.0, delivered.Profit)
	require.Equal(t, "Festive Pair", delivered.ComboName)
	require.Len(t, delivered.ProductDetails, 2)
	require.Equal(t, `Found combo "Festive Pair" with 2 products. Calculation: $500 - $300 = $200`, delivered.Message)
	require.NotNil(t, delivered.Date)
	require.Equal(t, "2024-01-15", delivered.Date.Format("2006-01-02"))

	returned := res.Results[1]
	require.Equal(t, "rpu", returned.Status)
	require.Equal(t, -200.0, returned.Profit)

	missing := res.Results[2]
	require.True(t, missing.IsError())
	require.Equal(t, OutcomeCatalogMissing, missing.Outcome)
	require.ErrorIs(t, missing.Err(), ErrCatalogNotFound)
	require.Equal(t, `Combo or product for "UNKNOWN-X" not found`, missing.Message)
	require.Zero(t, missing.Profit)

	require.Equal(t, Totals{TotalQuantity: 2, TotalPurchasePrice: 600, TotalPayment: 1000, TotalProfit: 0}, res.Totals)
	require.Equal(t, RecordSummary{TotalRecords: 3, SuccessRecords: 2, ErrorRecords: 1}, res.Summary)
	require.Equal(t, 200.0, res.ProfitSummary.DeliveredProfit)
	require.Equal(t, -200.0, res.ProfitSummary.RPUProfit)
	require.Equal(t, res.ProfitSummary.TotalProfit, res.ProfitSummary.NetProfit)

	require.Len(t, rto.items, 2)
	for _, item := range rto.items {
		require.Equal(t, CategoryRPU, item.Category)
		require.Equal(t, "From uploaded sheet: A-2", item.Reason)
		require.Equal(t, "upload", item.Source)
		require.NotNil(t, item.UploadID)
		require.Equal(t, uploadID, *item.UploadID)
		require.Equal(t, "2024-01-20", item.DateAdded.Format("2006-01-02"))
	}
}

func TestReconcilePartialFailureKeepsGoodRows(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.GuessIdentifiers = false
	r := newTestReconciler(seededCatalog(), nil, cfg)

	data := make([][]any, 0, 10)
	for i := 0; i < 10; i++ {
		sku := "COMBO-1"
		if i%3 == 2 {
			sku = ""
		}
		data = append(data, []any{fmt.Sprintf("A-%d", i), sku, 1, 500, "Delivered", "2024-01-15"})
	}
	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: gridRows(settlementHeaders, data...)})
	require.NoError(t, err)
	require.Equal(t, RecordSummary{TotalRecords: 10, SuccessRecords: 7, ErrorRecords: 3}, res.Summary)
	require.Equal(t, 1400.0, res.Totals.TotalProfit)

	for _, row := range res.Results {
		if row.Outcome != OutcomeSkuMissing {
			continue
		}
		require.Equal(t, "Missing", row.SKU)
		require.True(t, row.IsError())
		require.ErrorIs(t, row.Err(), ErrMissingIdentifier)
		require.Contains(t, row.Message, "SKU ID is required. Available headers: Order ID, SKU")
	}
}

func TestReconcileTotalsMatchRowSums(t *testing.T) {
	r := newTestReconciler(seededCatalog(), &memoryRTO{}, DefaultReconcilerConfig())
	rows := gridRows(settlementHeaders,
		[]any{"A-1", "COMBO-1", 3, 1499.99, "Delivered", "15/01/2024"},
		[]any{"A-2", "BAR-LONE", 2, 210.10, "RTO", "16/01/2024"},
		[]any{"A-3", "CB-0001", 1, 333.33, "Customer return", "17/01/2024"},
		[]any{"A-4", "nothing here", 1, 10, "Delivered", "18/01/2024"},
		[]any{"A-5", "BAR-B", 2, 1000.01, "delivered", 45310},
	)
	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)

	var qty, cost, payment, profit decimal.Decimal
	var success, failed int
	for _, row := range res.Results {
		if row.IsError() {
			failed++
			continue
		}
		success++
		qty = qty.Add(decimal.NewFromFloat(row.Quantity))
		cost = cost.Add(decimal.NewFromFloat(row.PurchasePrice))
		payment = payment.Add(decimal.NewFromFloat(row.Payment))
		profit = profit.Add(decimal.NewFromFloat(row.Profit))
	}
	require.Equal(t, res.Summary.TotalRecords, success+failed)
	require.Equal(t, res.Summary.SuccessRecords, success)
	require.Equal(t, decFloat(qty), res.Totals.TotalQuantity)
	require.Equal(t, decFloat(cost.Round(2)), res.Totals.TotalPurchasePrice)
	require.Equal(t, decFloat(payment.Round(2)), res.Totals.TotalPayment)
	require.Equal(t, decFloat(profit.Round(2)), res.Totals.TotalProfit)

	rtoRow := res.Results[1]
	require.Equal(t, "rto", rtoRow.Status)
	require.Equal(t, -180.0, rtoRow.Profit)
	require.LessOrEqual(t, rtoRow.Profit, 0.0)
	require.Equal(t, "2024-01-19", res.Results[4].Date.Format("2006-01-02"))
}

func TestReconcileSheetOverrides(t *testing.T) {
	r := newTestReconciler(seededCatalog(), nil, DefaultReconcilerConfig())
	headers := []any{"Order ID", "SKU", "Quantity", "Payment", "Purchase Price", "Profit", "Status"}
	rows := gridRows(headers,
		[]any{"A-1", "COMBO-1", 2, 800, 150, "", "Delivered"},
		[]any{"A-2", "COMBO-1", 1, 500, "", 77, "Delivered"},
		[]any{"A-3", "UNKNOWN-X", 1, 150, 100, "", "Delivered"},
		[]any{"A-4", "COMBO-1", 1, 500, "", 55, "RTO"},
	)
	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)

	require.Equal(t, 300.0, res.Results[0].PurchasePrice)
	require.Equal(t, 500.0, res.Results[0].Profit)

	require.Equal(t, 77.0, res.Results[1].Profit)

	kept := res.Results[2]
	require.Equal(t, OutcomeCatalogMissing, kept.Outcome)
	require.False(t, kept.IsError())
	require.Equal(t, 50.0, kept.Profit)

	require.Equal(t, -300.0, res.Results[3].Profit, "rto ignores the sheet profit")
	require.Equal(t, 4, res.Summary.SuccessRecords)
}

func TestReconcileIgnoresDateColumnsForAmounts(t *testing.T) {
	r := newTestReconciler(seededCatalog(), nil, DefaultReconcilerConfig())
	headers := []any{"Order ID", "SKU", "Quantity", "Payment Amount", "Payment Date", "Status"}
	rows := gridRows(headers, []any{"A-1", "COMBO-1", 1, 500, "2024-01-15", "Delivered"})

	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)
	require.Equal(t, 500.0, res.Results[0].Payment)
	require.Equal(t, 200.0, res.Results[0].Profit)
	require.Equal(t, "2024-01-15", res.Results[0].Date.Format("2006-01-02"))
}

func TestReconcileZeroRTOPolicy(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.Rules = ProfitRules{RTO: RTOPolicyZero}
	r := newTestReconciler(seededCatalog(), nil, cfg)
	rows := gridRows(settlementHeaders, []any{"A-1", "COMBO-1", 1, 500, "RTO", "2024-01-15"})

	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)
	require.Zero(t, res.Results[0].Profit)
	require.Equal(t, 300.0, res.Results[0].PurchasePrice)
}

func TestReconcileGuessesIdentifier(t *testing.T) {
	r := newTestReconciler(seededCatalog(), nil, DefaultReconcilerConfig())
	rows := gridRows([]any{"Item", "Payment"}, []any{"COMBO-1", 500})

	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)
	require.Equal(t, "COMBO-1", res.Results[0].SKU)
	require.Equal(t, OutcomeResolved, res.Results[0].Outcome)
	require.Equal(t, fmt.Sprintf("ORD-%d-0", fixedClock().UnixMilli()), res.Results[0].OrderID)
}

func TestReconcileCatalogFailureIsRowError(t *testing.T) {
	catalog := seededCatalog()
	catalog.failOn = "BROKEN"
	r := newTestReconciler(catalog, nil, DefaultReconcilerConfig())
	rows := gridRows(settlementHeaders,
		[]any{"A-1", "BROKEN", 1, 500, "Delivered", "2024-01-15"},
		[]any{"A-2", "COMBO-1", 1, 500, "Delivered", "2024-01-15"},
	)

	res, err := r.Reconcile(context.Background(), ReconcileInput{Rows: rows})
	require.NoError(t, err)
	require.Equal(t, OutcomeError, res.Results[0].Outcome)
	require.True(t, res.Results[0].IsError())
	require.ErrorIs(t, res.Results[0].Err(), ErrComputation)
	require.Equal(t, OutcomeResolved, res.Results[1].Outcome)
	require.Equal(t, 200.0, res.Totals.TotalProfit)
}

func TestReconcileDeduplicatesLookups(t *testing.T) {
	catalog := seededCatalog()
	r := newTestReconciler(catalog, nil, DefaultReconcilerConfig())
	data := make([][]any, 0, 20)
	for i := 0; i < 20; i++ {
		data = append(data, []any{fmt.Sprintf("A-%d", i), "COMBO-1", 1, 500, "Delivered", "2024-01-15"})
	}
	_, err := r.Reconcile(context.Background(), ReconcileInput{Rows: gridRows(settlementHeaders, data...)})
	require.NoError(t, err)
	require.Equal(t, 1, catalog.calls)
}

func TestReconcileStopsOnCancelledContext(t *testing.T) {
	r := newTestReconciler(seededCatalog(), nil, DefaultReconcilerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := gridRows(settlementHeaders, []any{"A-1", "COMBO-1", 1, 500, "Delivered", "2024-01-15"})

	_, err := r.Reconcile(ctx, ReconcileInput{Rows: rows})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGuessIdentifierFromRow(t *testing.T) {
	row := Row{
		{Header: "a", Value: "ORD-1"},
		{Header: "b", Value: "12345"},
		{Header: "c", Value: "2024-01-15"},
		{Header: "d", Value: "SKU_77"},
	}
	require.Equal(t, "SKU_77", GuessIdentifierFromRow(row, "ORD-1"))
	require.Empty(t, GuessIdentifierFromRow(Row{{Header: "a", Value: 12.0}}, ""))
}
