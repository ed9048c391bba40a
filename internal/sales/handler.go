package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// Handler exposes sales endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listSales)
	r.Post("/", h.createSale)
	r.Get("/{id}", h.showSale)
	r.Post("/returns", h.createReturn)
}

type partialResponse struct {
	Sale        *Sale   `json:"sale,omitempty"`
	Return      *Return `json:"return,omitempty"`
	StockPosted bool    `json:"stockPosted"`
	StockError  string  `json:"stockError,omitempty"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var input CreateSaleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Actor = strings.TrimSpace(r.Header.Get("X-User"))
	sale, err := h.service.CreateSale(r.Context(), input)
	if err != nil && sale.ID == 0 {
		h.fail(w, "create sale", err)
		return
	}
	resp := partialResponse{Sale: &sale, StockPosted: err == nil}
	if err != nil {
		h.logger.Error("post sale stock", slog.String("code", sale.Code), slog.Any("error", err))
		resp.StockError = err.Error()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var input CreateReturnInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Actor = strings.TrimSpace(r.Header.Get("X-User"))
	ret, err := h.service.CreateReturn(r.Context(), input)
	if err != nil && ret.ID == 0 {
		h.fail(w, "create return", err)
		return
	}
	resp := partialResponse{Return: &ret, StockPosted: err == nil}
	if err != nil {
		h.logger.Error("restock return", slog.String("code", ret.Code), slog.Any("error", err))
		resp.StockError = err.Error()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) showSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.fail(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SaleFilter{Status: Status(strings.ToLower(strings.TrimSpace(q.Get("status")))), Limit: 100}
	switch filter.Status {
	case "", StatusDelivered, StatusRPU, StatusRTO:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be delivered, rpu or rto")
		return
	}
	var err error
	if filter.From, err = parseDay(q.Get("from"), false); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
		return
	}
	if filter.To, err = parseDay(q.Get("to"), true); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}
	sales, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.fail(w, "list sales", err)
		return
	}
	if sales == nil {
		sales = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, sales)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDay(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
