// Package export renders profit reports as CSV and PDF.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/textilehq/backoffice/internal/profitloss"
)

// WriteSummaryCSV serialises the range summary as metric/value pairs.
func WriteSummaryCSV(w io.Writer, summary profitloss.Summary, period string) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"Period", period},
		{"Total Profit", formatFloat(summary.TotalProfit)},
		{"Delivered Profit", formatFloat(summary.DeliveredProfit)},
		{"RPU Profit", formatFloat(summary.RPUProfit)},
		{"RTO Profit", formatFloat(summary.RTOProfit)},
		{"Delivered Payment", formatFloat(summary.TotalPayment)},
		{"Delivered Purchase", formatFloat(summary.TotalPurchase)},
		{"Delivered Orders", strconv.Itoa(summary.DeliveredCount)},
		{"RPU Orders", strconv.Itoa(summary.RPUCount)},
		{"RTO Orders", strconv.Itoa(summary.RTOCount)},
		{"Entries", strconv.Itoa(summary.EntryCount)},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteMonthlyCSV emits the monthly profit series.
func WriteMonthlyCSV(w io.Writer, points []profitloss.MonthlyPoint) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Month", "Label", "Delivered Profit", "RPU Profit", "RTO Profit", "Total Profit", "Delivered Payment", "Delivered Purchase", "Orders"}); err != nil {
		return err
	}
	for _, point := range points {
		if err := writer.Write([]string{
			point.Month,
			point.Label,
			formatFloat(point.DeliveredProfit),
			formatFloat(point.RPUProfit),
			formatFloat(point.RTOProfit),
			formatFloat(point.TotalProfit),
			formatFloat(point.DeliveredPayment),
			formatFloat(point.DeliveredPurchase),
			strconv.Itoa(point.Count),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteEntriesCSV emits ledger rows, one per order line.
func WriteEntriesCSV(w io.Writer, entries []profitloss.LedgerEntry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Order ID", "SKU", "Combo", "Products", "Quantity", "Purchase", "Payment", "Profit", "Status", "Payment Date", "Source File"}); err != nil {
		return err
	}
	for _, e := range entries {
		status := e.Status
		if e.IsError {
			status = profitloss.RowStatusError
		}
		paid := ""
		if e.PaymentDate != nil && !e.PaymentDate.IsZero() {
			paid = e.PaymentDate.UTC().Format(time.DateOnly)
		}
		if err := writer.Write([]string{
			e.OrderID,
			e.SKU,
			e.ComboName,
			e.ProductNames,
			formatFloat(e.Quantity),
			formatFloat(e.PurchasePrice),
			formatFloat(e.Payment),
			formatFloat(e.Profit),
			status,
			paid,
			e.FileName,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
