package catalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	maxUpload int64
}

// NewHandler constructs the catalog handler. maxUpload bounds import files.
func NewHandler(logger *slog.Logger, service *Service, maxUpload int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), maxUpload: maxUpload}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/vendors", h.handleListVendors)
	r.Post("/vendors", h.handleCreateVendor)
	r.Get("/categories", h.handleListCategories)
	r.Post("/categories", h.handleCreateCategory)
	r.Get("/products", h.handleListProducts)
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Get("/combos", h.handleListCombos)
	r.Post("/combos", h.handleCreateCombo)
	r.Post("/combos/import", h.handleImportCombos)
	r.Get("/combos/{id}", h.handleGetCombo)
	r.Put("/combos/{id}/lines", h.handleMapCombo)
	r.Delete("/combos/{id}", h.handleDeactivateCombo)
	r.Post("/purchases", h.handleRecordPurchase)
	r.Get("/scan/{code}", h.handleScan)
}

func (h *Handler) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.service.ListVendors(r.Context())
	if err != nil {
		h.fail(w, "list vendors", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(vendors))
}

func (h *Handler) handleCreateVendor(w http.ResponseWriter, r *http.Request) {
	var v Vendor
	if !h.decode(w, r, &v) {
		return
	}
	created, err := h.service.CreateVendor(r.Context(), v)
	if err != nil {
		h.fail(w, "create vendor", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(categories))
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c Category
	if !h.decode(w, r, &c) {
		return
	}
	created, err := h.service.CreateCategory(r.Context(), c)
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ProductFilter{Search: q.Get("q")}
	var ok bool
	if filter.CategoryID, ok = queryInt(w, q.Get("categoryId"), "categoryId"); !ok {
		return
	}
	if filter.VendorID, ok = queryInt(w, q.Get("vendorId"), "vendorId"); !ok {
		return
	}
	limit, ok := queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	filter.Limit = int(limit)
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(products))
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if !h.decode(w, r, &p) {
		return
	}
	created, err := h.service.CreateProduct(r.Context(), p)
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleListCombos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	combos, err := h.service.ListCombos(r.Context(), ComboFilter{
		Search:          q.Get("q"),
		IncludeInactive: q.Get("inactive") == "true",
		UnmappedOnly:    q.Get("unmapped") == "true",
		Limit:           int(limit),
	})
	if err != nil {
		h.fail(w, "list combos", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(combos))
}

func (h *Handler) handleCreateCombo(w http.ResponseWriter, r *http.Request) {
	var c Combo
	if !h.decode(w, r, &c) {
		return
	}
	created, err := h.service.CreateCombo(r.Context(), c, actor(r))
	if err != nil {
		h.fail(w, "create combo", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCombo(r.Context(), id)
	if err != nil {
		h.fail(w, "get combo", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type mapComboRequest struct {
	Lines []ComboLine `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleMapCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req mapComboRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.MapCombo(r.Context(), id, req.Lines, actor(r))
	if err != nil {
		h.fail(w, "map combo", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeactivateCombo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateCombo(r.Context(), id, actor(r)); err != nil {
		h.fail(w, "deactivate combo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleImportCombos(w http.ResponseWriter, r *http.Request) {
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
		h.fail(w, "read import", err)
		return
	}
	if int64(len(data)) > h.maxUpload {
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
		return
	}
	result, err := h.service.ImportCombos(r.Context(), header.Filename, data, actor(r))
	if err != nil {
		h.fail(w, "import combos", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type purchaseResponse struct {
	Purchase    Purchase `json:"purchase"`
	StockPosted bool     `json:"stockPosted"`
	StockError  string   `json:"stockError,omitempty"`
}

func (h *Handler) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var p Purchase
	if !h.decode(w, r, &p) {
		return
	}
	saved, err := h.service.RecordPurchase(r.Context(), p, actor(r))
	if err != nil && saved.ID == 0 {
		h.fail(w, "record purchase", err)
		return
	}
	resp := purchaseResponse{Purchase: saved, StockPosted: err == nil}
	if err != nil {
		h.logger.Error("receive purchase stock", slog.Int64("purchase_id", saved.ID), slog.Any("error", err))
		resp.StockError = err.Error()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ScanBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, "scan barcode", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User"))
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, raw, name string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return v, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
