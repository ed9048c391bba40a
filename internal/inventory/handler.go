package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances/{productID}", h.handleBalance)
	r.Get("/stock-card/{productID}", h.handleStockCard)
	r.Post("/inbound", h.movement(h.service.PostInbound))
	r.Post("/returns", h.movement(h.service.PostReturn))
	r.Post("/adjustments", h.movement(h.service.PostAdjustment))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	productID, ok := productParam(w, r)
	if !ok {
		return
	}
	bal, err := h.service.GetBalance(r.Context(), productID)
	if err != nil {
		h.fail(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	productID, ok := productParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := StockCardFilter{ProductID: productID}
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
		if err != nil || limit < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, "get stock card", err)
		return
	}
	if entries == nil {
		entries = []StockCardEntry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) movement(post func(context.Context, MovementInput) (StockCardEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input MovementInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.validator.Struct(input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input.Actor = r.Header.Get("X-User")
		if input.RefModule == "" {
			input.RefModule = "INVENTORY"
		}
		card, err := post(r.Context(), input)
		if err != nil {
			h.fail(w, "post movement", err)
			return
		}
		h.logger.Info("inventory movement posted",
			slog.String("code", card.TxCode),
			slog.String("type", string(card.TxType)),
			slog.Int64("product_id", input.ProductID))
		httpx.JSON(w, http.StatusCreated, card)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func productParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return 0, false
	}
	return id, true
}

func parseDay(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
