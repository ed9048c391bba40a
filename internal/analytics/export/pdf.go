package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/textilehq/backoffice/internal/profitloss"
)

// ReportPayload aggregates the data printed in a profit report.
type ReportPayload struct {
	Title       string
	Period      string
	GeneratedAt time.Time
	Summary     profitloss.Summary
	Monthly     []profitloss.MonthlyPoint
	Uploads     []profitloss.UploadedSheet
	Chart       template.HTML
}

// HTMLRenderer converts an HTML document into PDF bytes.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, name, html string) ([]byte, error)
}

// PDFExporter renders report payloads through an HTML renderer.
type PDFExporter struct {
	Renderer HTMLRenderer
}

// RenderReport builds the report document and returns the PDF bytes.
func (p *PDFExporter) RenderReport(ctx context.Context, payload ReportPayload) ([]byte, error) {
	if p == nil || p.Renderer == nil {
		return nil, errors.New("pdf exporter not initialised")
	}
	data, err := p.Renderer.RenderHTML(ctx, "profit-report.html", BuildHTML(payload))
	if err != nil {
		return nil, fmt.Errorf("render profit report: %w", err)
	}
	return data, nil
}

// BuildHTML lays out the printable report.
func BuildHTML(payload ReportPayload) string {
	title := payload.Title
	if title == "" {
		title = "Profit & Loss"
	}
	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"><style>")
	b.WriteString("body{font-family:sans-serif;margin:24px;}h1{font-size:20px;}table{width:100%;border-collapse:collapse;margin-bottom:16px;}th,td{border:1px solid #ddd;padding:6px;text-align:right;}th{text-align:left;background:#f5f5f5;}section{margin-bottom:24px;} .metric-label{text-align:left;} .loss{color:#b91c1c;}")
	b.WriteString("</style></head><body>")
	b.WriteString(fmt.Sprintf("<h1>%s: %s</h1>", escape(title), escape(payload.Period)))
	if !payload.GeneratedAt.IsZero() {
		b.WriteString(fmt.Sprintf("<p>Generated %s</p>", escape(payload.GeneratedAt.UTC().Format("02 Jan 2006 15:04 MST"))))
	}

	s := payload.Summary
	b.WriteString("<section><h2>Summary</h2><table><tbody>")
	writeMetricRow(&b, "Total Profit", s.TotalProfit)
	writeMetricRow(&b, "Delivered Profit", s.DeliveredProfit)
	writeMetricRow(&b, "RPU Profit", s.RPUProfit)
	writeMetricRow(&b, "RTO Profit", s.RTOProfit)
	writeMetricRow(&b, "Delivered Payment", s.TotalPayment)
	writeMetricRow(&b, "Delivered Purchase", s.TotalPurchase)
	b.WriteString(fmt.Sprintf("<tr><td class=\"metric-label\">Orders</td><td>%d delivered / %d rpu / %d rto</td></tr>", s.DeliveredCount, s.RPUCount, s.RTOCount))
	b.WriteString("</tbody></table></section>")

	if payload.Chart != "" {
		b.WriteString("<section><h2>Monthly Profit</h2>")
		b.WriteString(string(payload.Chart))
		b.WriteString("</section>")
	}

	if len(payload.Monthly) > 0 {
		b.WriteString("<section><h2>By Month</h2><table><thead><tr><th>Month</th><th>Delivered</th><th>RPU</th><th>RTO</th><th>Total</th><th>Orders</th></tr></thead><tbody>")
		for _, point := range payload.Monthly {
			b.WriteString("<tr><td class=\"metric-label\">")
			b.WriteString(escape(point.Label))
			b.WriteString("</td>")
			writeAmountCell(&b, point.DeliveredProfit)
			writeAmountCell(&b, point.RPUProfit)
			writeAmountCell(&b, point.RTOProfit)
			writeAmountCell(&b, point.TotalProfit)
			b.WriteString(fmt.Sprintf("<td>%d</td></tr>", point.Count))
		}
		b.WriteString("</tbody></table></section>")
	}

	if len(payload.Uploads) > 0 {
		b.WriteString("<section><h2>Recent Uploads</h2><table><thead><tr><th>File</th><th>Uploaded</th><th>Rows</th><th>Errors</th><th>Profit</th></tr></thead><tbody>")
		for _, sheet := range payload.Uploads {
			b.WriteString("<tr><td class=\"metric-label\">")
			b.WriteString(escape(sheet.FileName))
			b.WriteString("</td><td>")
			b.WriteString(escape(sheet.UploadDate.UTC().Format(time.DateOnly)))
			b.WriteString(fmt.Sprintf("</td><td>%d</td><td>%d</td>", sheet.TotalRecords, sheet.ErrorRecords))
			writeAmountCell(&b, sheet.ProfitSummary.TotalProfit)
			b.WriteString("</tr>")
		}
		b.WriteString("</tbody></table></section>")
	}

	b.WriteString("</body></html>")
	return b.String()
}

func writeMetricRow(b *strings.Builder, label string, value float64) {
	b.WriteString("<tr><td class=\"metric-label\">")
	b.WriteString(escape(label))
	b.WriteString("</td>")
	writeAmountCell(b, value)
	b.WriteString("</tr>")
}

func writeAmountCell(b *strings.Builder, value float64) {
	if value < 0 {
		b.WriteString("<td class=\"loss\">")
	} else {
		b.WriteString("<td>")
	}
	b.WriteString(formatFloat(value))
	b.WriteString("</td>")
}

func escape(v string) string {
	return template.HTMLEscapeString(v)
}
