// Package analytichttp serves downloadable profit reports.
package analytichttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/textilehq/backoffice/internal/analytics/export"
	"github.com/textilehq/backoffice/internal/analytics/ui"
	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
)

const (
	requestTimeout = 10 * time.Second
	reportUploads  = 5
)

// ReportService defines the profit data contract used by the handler.
type ReportService interface {
	Overview(ctx context.Context, filter profitloss.RangeFilter) (profitloss.Overview, error)
	Entries(ctx context.Context, filter profitloss.EntryFilter) ([]profitloss.LedgerEntry, error)
	LatestUploads(ctx context.Context, limit int) ([]profitloss.UploadedSheet, error)
}

// PDFService renders report content to PDF bytes.
type PDFService interface {
	RenderReport(ctx context.Context, payload export.ReportPayload) ([]byte, error)
}

// Handler coordinates report downloads.
type Handler struct {
	logger  *slog.Logger
	service ReportService
	line    ui.LineRenderer
	bar     ui.BarRenderer
	pdf     PDFService
	csvPool sync.Pool
	now     func() time.Time
}

// NewHandler constructs the report HTTP handler. pdf may be nil when no
// renderer is configured.
func NewHandler(logger *slog.Logger, service ReportService, line ui.LineRenderer, bar ui.BarRenderer, pdf PDFService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:  logger,
		service: service,
		line:    line,
		bar:     bar,
		pdf:     pdf,
		now:     time.Now,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) handleSummaryCSV(w http.ResponseWriter, r *http.Request) {
	filter, filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	overview, err := h.service.Overview(ctx, filter)
	if err != nil {
		h.fail(w, "load overview", err)
		return
	}
	h.writeCSV(w, "profit-summary", func(buf *bytes.Buffer) error {
		if err := export.WriteSummaryCSV(buf, overview.Summary, filters.Period()); err != nil {
			return err
		}
		buf.WriteString("\n")
		return export.WriteMonthlyCSV(buf, overview.Monthly)
	})
}

func (h *Handler) handleMonthlyCSV(w http.ResponseWriter, r *http.Request) {
	filter, _, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	overview, err := h.service.Overview(ctx, filter)
	if err != nil {
		h.fail(w, "load overview", err)
		return
	}
	h.writeCSV(w, "profit-monthly", func(buf *bytes.Buffer) error {
		return export.WriteMonthlyCSV(buf, overview.Monthly)
	})
}

func (h *Handler) handleEntriesCSV(w http.ResponseWriter, r *http.Request) {
	filter, _, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	entries, err := h.service.Entries(ctx, profitloss.EntryFilter{
		StartDate: filter.StartDate,
		EndDate:   filter.EndDate,
		SKU:       strings.TrimSpace(q.Get("sku")),
		Status:    strings.TrimSpace(q.Get("status")),
	})
	if err != nil {
		h.fail(w, "load entries", err)
		return
	}
	h.writeCSV(w, "profit-entries", func(buf *bytes.Buffer) error {
		return export.WriteEntriesCSV(buf, entries)
	})
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	filter, filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	overview, err := h.service.Overview(ctx, filter)
	if err != nil {
		h.fail(w, "load overview", err)
		return
	}
	vm, err := ui.BuildViewModel(filters, overview, h.line, h.bar)
	if err != nil {
		h.fail(w, "render charts", err)
		return
	}
	chart := vm.ProfitSVG
	if r.URL.Query().Get("chart") == "payments" {
		chart = vm.PaymentSVG
	}
	if chart == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write([]byte(chart)); err != nil {
		h.logError("stream svg", err)
	}
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	if h.pdf == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Renderer Unavailable", "pdf export is not configured")
		return
	}
	filter, filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		overview profitloss.Overview
		uploads  []profitloss.UploadedSheet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overview, err = h.service.Overview(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		uploads, err = h.service.LatestUploads(gctx, reportUploads)
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, "load report", err)
		return
	}

	vm, err := ui.BuildViewModel(filters, overview, h.line, h.bar)
	if err != nil {
		h.fail(w, "render charts", err)
		return
	}
	pdfBytes, err := h.pdf.RenderReport(ctx, export.ReportPayload{
		Period:      filters.Period(),
		GeneratedAt: h.now(),
		Summary:     overview.Summary,
		Monthly:     overview.Monthly,
		Uploads:     uploads,
		Chart:       vm.ProfitSVG,
	})
	if err != nil {
		h.logError("render pdf", err)
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "pdf renderer returned an error")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", h.filename("profit-report", "pdf")))
	if _, err := w.Write(pdfBytes); err != nil {
		h.logError("stream pdf", err)
	}
}

func (h *Handler) writeCSV(w http.ResponseWriter, base string, fill func(*bytes.Buffer) error) {
	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := fill(buf); err != nil {
		h.fail(w, "write "+base+" csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", h.filename(base, "csv")))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) parseFilters(w http.ResponseWriter, r *http.Request) (profitloss.RangeFilter, ui.ReportFilters, bool) {
	filter, err := profitloss.ParseRangeFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return profitloss.RangeFilter{}, ui.ReportFilters{}, false
	}
	filters := ui.ReportFilters{IncludeSales: filter.IncludeSales}
	if filter.StartDate != nil {
		filters.Start = filter.StartDate.UTC().Format(time.DateOnly)
	}
	if filter.EndDate != nil {
		filters.End = filter.EndDate.UTC().Format(time.DateOnly)
	}
	return filter, filters, true
}

func (h *Handler) filename(base, ext string) string {
	return fmt.Sprintf("%s-%s.%s", base, h.now().UTC().Format("20060102"), ext)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		h.logError(op, err)
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", "report took too long to build")
		return
	}
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) {
		h.logError(op, err)
	}
	httpx.RespondError(w, err)
}

func (h *Handler) logError(op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
}
