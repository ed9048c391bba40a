// Package ui shapes profit report data for charts and printable views.
package ui

import (
	"fmt"
	"html/template"
	"math"

	"github.com/textilehq/backoffice/internal/analytics/svg"
	"github.com/textilehq/backoffice/internal/profitloss"
)

// ReportFilters represents sanitized query filters used by report exports.
type ReportFilters struct {
	Start        string
	End          string
	IncludeSales bool
}

// Period renders the filter range for headings.
func (f ReportFilters) Period() string {
	switch {
	case f.Start != "" && f.End != "":
		return f.Start + " to " + f.End
	case f.Start != "":
		return "from " + f.Start
	case f.End != "":
		return "until " + f.End
	}
	return "All time"
}

// MonthlyRow is one month as shown on charts.
type MonthlyRow struct {
	Label    string
	Total    float64
	Payment  float64
	Purchase float64
}

// ReportViewModel combines report data for rendering.
type ReportViewModel struct {
	Filters    ReportFilters
	Summary    profitloss.Summary
	Monthly    []MonthlyRow
	ProfitSVG  template.HTML
	PaymentSVG template.HTML
}

// LineRenderer abstracts SVG line chart rendering.
type LineRenderer interface {
	Line(width, height int, series []float64, labels []string, opts svg.LineOpts) (template.HTML, error)
}

// BarRenderer abstracts SVG bar chart rendering.
type BarRenderer interface {
	Bars(width, height int, seriesA, seriesB []float64, labels []string, opts svg.BarOpts) (template.HTML, error)
}

// ToMonthlyRows converts the monthly series into chart rows. The unknown
// bucket has no place on a time axis and is dropped.
func ToMonthlyRows(points []profitloss.MonthlyPoint) []MonthlyRow {
	rows := make([]MonthlyRow, 0, len(points))
	for _, point := range points {
		if point.Month == profitloss.UnknownMonth {
			continue
		}
		rows = append(rows, MonthlyRow{
			Label:    point.Label,
			Total:    point.TotalProfit,
			Payment:  point.DeliveredPayment,
			Purchase: point.DeliveredPurchase,
		})
	}
	return rows
}

// BuildViewModel renders both charts for the overview. Charts are left
// empty when there are no dated months.
func BuildViewModel(filters ReportFilters, overview profitloss.Overview, line LineRenderer, bar BarRenderer) (ReportViewModel, error) {
	vm := ReportViewModel{
		Filters: filters,
		Summary: overview.Summary,
		Monthly: ToMonthlyRows(overview.Monthly),
	}
	if len(vm.Monthly) == 0 {
		return vm, nil
	}
	labels := make([]string, len(vm.Monthly))
	totals := make([]float64, len(vm.Monthly))
	payments := make([]float64, len(vm.Monthly))
	purchases := make([]float64, len(vm.Monthly))
	for i, row := range vm.Monthly {
		labels[i] = row.Label
		totals[i] = row.Total
		payments[i] = row.Payment
		purchases[i] = row.Purchase
	}

	var err error
	if line != nil {
		vm.ProfitSVG, err = line.Line(svg.DefaultWidth, svg.DefaultHeight, totals, labels, svg.LineOpts{
			Title:       "Net profit",
			Description: "Total profit per month for " + filters.Period(),
			ShowDots:    true,
			TickFormat:  FormatMoney,
		})
		if err != nil {
			return vm, fmt.Errorf("render profit chart: %w", err)
		}
	}
	if bar != nil {
		vm.PaymentSVG, err = bar.Bars(svg.DefaultWidth, svg.DefaultHeight, payments, purchases, labels, svg.BarOpts{
			Title:        "Payments vs purchase cost",
			Description:  "Delivered payments against purchase cost per month",
			SeriesALabel: "Payments",
			SeriesBLabel: "Purchase cost",
			TickFormat:   FormatMoney,
		})
		if err != nil {
			return vm, fmt.Errorf("render payment chart: %w", err)
		}
	}
	return vm, nil
}

// FormatMoney prints whole amounts with a dollar sign and compact suffixes.
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%s$%.1fM", sign, v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%s$%.1fk", sign, v/1_000)
	}
	return fmt.Sprintf("%s$%.0f", sign, math.Round(v))
}
