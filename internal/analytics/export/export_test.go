package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/textilehq/backoffice/internal/profitloss"
	"github.com/textilehq/backoffice/report"
)

func TestWriteSummaryCSV(t *testing.T) {
	summary := profitloss.Summary{TotalProfit: -100.5, DeliveredProfit: 200, RTOCount: 3}
	buf := &bytes.Buffer{}
	if err := WriteSummaryCSV(buf, summary, "Jan 2024"); err != nil {
		t.Fatalf("summary csv error: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if len(records) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(records))
	}
	if records[2][1] != "-100.50" {
		t.Fatalf("unexpected total profit %q", records[2][1])
	}
	if records[9][1] != "3" {
		t.Fatalf("unexpected rto count %q", records[9][1])
	}
}

func TestWriteMonthlyCSV(t *testing.T) {
	points := []profitloss.MonthlyPoint{
		{Month: "2024-01", Label: "Jan 2024", DeliveredProfit: 200, RTOProfit: -300, TotalProfit: -100, Count: 2},
		{Month: profitloss.UnknownMonth, Label: "Unknown", TotalProfit: 5, Count: 1},
	}
	buf := &bytes.Buffer{}
	if err := WriteMonthlyCSV(buf, points); err != nil {
		t.Fatalf("monthly csv error: %v", err)
	}
	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if got := strings.Join(records[1], "|"); got != "2024-01|Jan 2024|200.00|0.00|-300.00|-100.00|0.00|0.00|2" {
		t.Fatalf("unexpected row %s", got)
	}
}

func TestWriteEntriesCSVMarksErrors(t *testing.T) {
	paid := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	entries := []profitloss.LedgerEntry{
		{OrderID: "A-1", SKU: "COMBO-1", ComboName: "Festive, Pair", Quantity: 1, Payment: 500, PurchasePrice: 300, Profit: 200, Status: "delivered", PaymentDate: &paid, FileName: "jan.csv"},
		{OrderID: "A-3", SKU: "UNKNOWN-X", Status: "delivered", IsError: true},
	}
	buf := &bytes.Buffer{}
	if err := WriteEntriesCSV(buf, entries); err != nil {
		t.Fatalf("entries csv error: %v", err)
	}
	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if records[1][2] != "Festive, Pair" || records[1][9] != "2024-01-20" {
		t.Fatalf("unexpected first row %v", records[1])
	}
	if records[2][8] != profitloss.RowStatusError || records[2][9] != "" {
		t.Fatalf("expected error status without date, got %v", records[2])
	}
}

type stubRenderer struct {
	name string
	html string
	err  error
}

func (s *stubRenderer) RenderHTML(_ context.Context, name, html string) ([]byte, error) {
	s.name, s.html = name, html
	if s.err != nil {
		return nil, s.err
	}
	return []byte("PDF"), nil
}

func TestBuildHTMLEscapesAndFlagsLosses(t *testing.T) {
	html := BuildHTML(ReportPayload{
		Period:  "Jan <2024>",
		Summary: profitloss.Summary{TotalProfit: -50},
		Monthly: []profitloss.MonthlyPoint{{Label: "Jan 2024", TotalProfit: -50, Count: 1}},
		Uploads: []profitloss.UploadedSheet{{FileName: "a&b.csv", TotalRecords: 3, ErrorRecords: 1}},
		Chart:   "<svg></svg>",
	})
	if !strings.Contains(html, "Profit &amp; Loss: Jan &lt;2024&gt;") {
		t.Fatalf("expected escaped heading, got %s", html)
	}
	if !strings.Contains(html, "<td class=\"loss\">-50.00</td>") {
		t.Fatalf("expected loss styling")
	}
	if !strings.Contains(html, "a&amp;b.csv") || !strings.Contains(html, "<svg></svg>") {
		t.Fatalf("expected uploads table and chart")
	}
}

func TestPDFExporterRender(t *testing.T) {
	stub := &stubRenderer{}
	exporter := &PDFExporter{Renderer: stub}
	data, err := exporter.RenderReport(context.Background(), ReportPayload{Period: "2024"})
	if err != nil {
		t.Fatalf("pdf render error: %v", err)
	}
	if string(data) != "PDF" || stub.name != "profit-report.html" {
		t.Fatalf("unexpected render %q %q", data, stub.name)
	}

	stub.err = errors.New("down")
	if _, err := exporter.RenderReport(context.Background(), ReportPayload{}); err == nil {
		t.Fatalf("expected renderer error")
	}
	if _, err := (&PDFExporter{}).RenderReport(context.Background(), ReportPayload{}); err == nil {
		t.Fatalf("expected error without renderer")
	}
}

func TestPDFExporterWithGotenberg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forms/chromium/convert/html" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(64 << 10); err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("PDF"))
	}))
	defer srv.Close()

	exporter := &PDFExporter{Renderer: report.NewClient(srv.URL, 5*time.Second)}
	data, err := exporter.RenderReport(context.Background(), ReportPayload{Period: "2024-01"})
	if err != nil {
		t.Fatalf("pdf render error: %v", err)
	}
	if string(data) != "PDF" {
		t.Fatalf("unexpected payload %q", string(data))
	}
}
