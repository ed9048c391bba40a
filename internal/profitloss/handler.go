package profitloss

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

const defaultMaxUploadBytes = 10 << 20

// Handler exposes the profit-loss JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	maxUpload int64
}

// NewHandler constructs the handler. maxUpload bounds the multipart body.
func NewHandler(logger *slog.Logger, service *Service, maxUpload int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), maxUpload: maxUpload}
}

// MountRoutes registers routes relative to the /profit-loss prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleOverview)
	r.Post("/upload", h.handleUpload)
	r.Get("/entries", h.handleEntries)
	r.Get("/monthly", h.handleMonthly)
	r.Get("/stats", h.handleStats)
	r.Get("/combo-details/{sku}", h.handleComboDetails)
	r.Get("/rto-products", h.handleRTOProducts)
	r.Post("/rto-products", h.handleCreateRTOProduct)
	r.Delete("/rto-products/{id}", h.handleDeleteRTOProduct)
	r.Get("/uploads", h.handleListUploads)
	r.Get("/uploads/latest", h.handleLatestUploads)
	r.Get("/uploads/{id}", h.handleGetUpload)
	r.Patch("/uploads/{id}", h.handleUpdateUpload)
	r.Delete("/uploads/{id}", h.handleDeleteUpload)
	r.Post("/uploads/{id}/commit", h.handleRetryCommit)
	r.Post("/uploads/{id}/rows", h.handleAddRow)
	r.Put("/uploads/{id}/rows/{sNo}", h.handleUpdateRow)
	r.Delete("/uploads/{id}/rows/{sNo}", h.handleDeleteRow)
}

type persistenceProblem struct {
	httpx.ProblemDetail
	Result Result `json:"result"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "multipart form with a file field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		h.fail(w, "read upload", err)
		return
	}
	if int64(len(data)) > h.maxUpload {
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
		return
	}

	uploadedBy := strings.TrimSpace(r.FormValue("uploadedBy"))
	if uploadedBy == "" {
		uploadedBy = strings.TrimSpace(r.Header.Get("X-User"))
	}
	result, err := h.service.Upload(r.Context(), UploadInput{
		FileName:       header.Filename,
		Data:           data,
		UploadedBy:     uploadedBy,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	var persistErr *BatchPersistenceError
	if errors.As(err, &persistErr) {
		h.logger.Error("persist upload", slog.String("upload_id", persistErr.Result.UploadID.String()), slog.Any("error", persistErr.Err))
		httpx.JSON(w, http.StatusBadGateway, persistenceProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Persistence Failed",
				Status: http.StatusBadGateway,
				Detail: "the sheet was processed but could not be saved; retry the commit",
			},
			Result: persistErr.Result,
		})
		return
	}
	if err != nil {
		h.fail(w, "upload", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleRetryCommit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	sheet, err := h.service.RetryCommit(r.Context(), id)
	if err != nil {
		h.fail(w, "retry commit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := parseRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Entries(r.Context(), EntryFilter{
		StartDate: start,
		EndDate:   end,
		SKU:       strings.TrimSpace(q.Get("sku")),
		OrderID:   strings.TrimSpace(q.Get("orderId")),
		Status:    strings.TrimSpace(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseRangeFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	points, err := h.service.Monthly(r.Context(), filter)
	if err != nil {
		h.fail(w, "monthly", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"monthly": points})
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseRangeFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	overview, err := h.service.Overview(r.Context(), filter)
	if err != nil {
		h.fail(w, "overview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleComboDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.ComboDetails(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, "combo details", err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) handleRTOProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListRTOProducts(r.Context(), RTOFilter{
		Category: RTOCategory(strings.ToUpper(strings.TrimSpace(q.Get("category")))),
		Search:   strings.TrimSpace(q.Get("search")),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, "list rto products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": items, "count": len(items)})
}

func (h *Handler) handleCreateRTOProduct(w http.ResponseWriter, r *http.Request) {
	var input RTOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Actor = r.Header.Get("X-User")
	item, err := h.service.CreateRTOProduct(r.Context(), input)
	if err != nil {
		h.fail(w, "create rto product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) handleDeleteRTOProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid returned product id")
		return
	}
	if err := h.service.DeleteRTOProduct(r.Context(), id, r.Header.Get("X-User")); err != nil {
		h.fail(w, "delete rto product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListUploads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := parseRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sheets, err := h.service.ListUploads(r.Context(), UploadFilter{
		Status:    SheetStatus(strings.TrimSpace(q.Get("status"))),
		Search:    strings.TrimSpace(q.Get("search")),
		StartDate: start,
		EndDate:   end,
		Limit:     limit,
	})
	if err != nil {
		h.fail(w, "list uploads", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"uploads": sheets, "count": len(sheets)})
}

func (h *Handler) handleLatestUploads(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sheets, err := h.service.LatestUploads(r.Context(), limit)
	if err != nil {
		h.fail(w, "latest uploads", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"uploads": sheets})
}

func (h *Handler) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	sheet, err := h.service.GetUpload(r.Context(), id)
	if err != nil {
		h.fail(w, "get upload", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) handleUpdateUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	var input UpdateUploadInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Actor = r.Header.Get("X-User")
	sheet, err := h.service.UpdateUpload(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update upload", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	deleted, err := h.service.DeleteUpload(r.Context(), id)
	if err != nil {
		h.fail(w, "delete upload", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true, "deletedEntries": deleted})
}

func (h *Handler) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	sNo, ok := h.rowNumber(w, r)
	if !ok {
		return
	}
	var patch RowPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sheet, err := h.service.UpdateRow(r.Context(), id, sNo, patch)
	if err != nil {
		h.fail(w, "update row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) handleAddRow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	var input NewRow
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.Actor = r.Header.Get("X-User")
	sheet, err := h.service.AddRow(r.Context(), id, input)
	if err != nil {
		h.fail(w, "add row", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sheet)
}

func (h *Handler) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uploadID(w, r)
	if !ok {
		return
	}
	sNo, ok := h.rowNumber(w, r)
	if !ok {
		return
	}
	sheet, err := h.service.DeleteRow(r.Context(), id, sNo)
	if err != nil {
		h.fail(w, "delete row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) uploadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid upload id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) rowNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "sNo"))
	if err != nil || n <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid row number")
		return 0, false
	}
	return n, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Info(op, slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// ParseRangeFilter reads startDate, endDate and includeSales query values.
func ParseRangeFilter(r *http.Request) (RangeFilter, error) {
	q := r.URL.Query()
	start, end, err := parseRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		return RangeFilter{}, err
	}
	include := false
	if v := strings.TrimSpace(q.Get("includeSales")); v != "" {
		include, err = strconv.ParseBool(v)
		if err != nil {
			return RangeFilter{}, fmt.Errorf("profitloss: includeSales must be a boolean: %w", httpx.ErrValidation)
		}
	}
	return RangeFilter{StartDate: start, EndDate: end, IncludeSales: include}, nil
}

func parseRange(startRaw, endRaw string) (*time.Time, *time.Time, error) {
	start, err := parseQueryDate(startRaw, false)
	if err != nil {
		return nil, nil, fmt.Errorf("profitloss: invalid startDate: %w", httpx.ErrValidation)
	}
	end, err := parseQueryDate(endRaw, true)
	if err != nil {
		return nil, nil, fmt.Errorf("profitloss: invalid endDate: %w", httpx.ErrValidation)
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, fmt.Errorf("profitloss: endDate before startDate: %w", httpx.ErrValidation)
	}
	return start, end, nil
}

func parseQueryDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("profitloss: invalid limit: %w", httpx.ErrValidation)
	}
	return n, nil
}
