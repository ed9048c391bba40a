package profitloss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestAggregateByMonth(t *testing.T) {
	entries := []LedgerEntry{
		{PaymentDate: day(2024, 2, 3), Status: "delivered", Profit: 150, Payment: 500, PurchasePrice: 350},
		{PaymentDate: day(2024, 1, 10), Status: "delivered", Profit: 200, Payment: 500, PurchasePrice: 300},
		{PaymentDate: day(2024, 1, 12), Status: "rpu", Profit: -200, Payment: 500, PurchasePrice: 300},
		{PaymentDate: day(2024, 1, 31), Status: "rto", Profit: -300, Payment: 500, PurchasePrice: 300},
		{Status: "delivered", Profit: 10.1, Payment: 20, PurchasePrice: 9.9},
		{PaymentDate: day(2024, 1, 5), Status: RowStatusError, IsError: true, Profit: 999},
	}

	points := AggregateByMonth(entries)
	require.Len(t, points, 3)
	require.Equal(t, []string{"2024-01", "2024-02", UnknownMonth}, []string{points[0].Month, points[1].Month, points[2].Month})
	require.Equal(t, "Jan 2024", points[0].Label)
	require.Equal(t, "Unknown", points[2].Label)

	jan := points[0]
	require.Equal(t, 200.0, jan.DeliveredProfit)
	require.Equal(t, -200.0, jan.RPUProfit)
	require.Equal(t, -300.0, jan.RTOProfit)
	require.Equal(t, -300.0, jan.TotalProfit)
	require.Equal(t, 500.0, jan.DeliveredPayment)
	require.Equal(t, 300.0, jan.DeliveredPurchase)
	require.Equal(t, 3, jan.Count)

	require.Equal(t, 10.1, points[2].TotalProfit)
}

func TestAggregateByMonthEmpty(t *testing.T) {
	require.Empty(t, AggregateByMonth(nil))
}

func TestSummarize(t *testing.T) {
	entries := []LedgerEntry{
		{Status: "delivered", Profit: 0.1, Payment: 10, PurchasePrice: 9.9},
		{Status: "delivered", Profit: 0.2, Payment: 10, PurchasePrice: 9.8},
		{Status: "rpu", Profit: -5, Payment: 10, PurchasePrice: 5},
		{Status: "rto", Profit: -7, Payment: 0, PurchasePrice: 7},
		{Status: RowStatusError, IsError: true, Profit: 100},
	}
	s := Summarize(entries)
	require.Equal(t, 0.3, s.DeliveredProfit)
	require.Equal(t, -11.7, s.TotalProfit)
	require.Equal(t, 30.0, s.TotalPayment)
	require.Equal(t, 31.7, s.TotalPurchase)
	require.Equal(t, 2, s.DeliveredCount)
	require.Equal(t, 1, s.RPUCount)
	require.Equal(t, 1, s.RTOCount)
	require.Equal(t, 4, s.EntryCount)
}
