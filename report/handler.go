package report

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

const pingTimeout = 3 * time.Second

// RendererStatus is the body of GET /reports/ping.
type RendererStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs,omitempty"`
}

// Handler reports whether PDF exports can currently be rendered.
type Handler struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a report handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger, now: time.Now}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	start := h.now()
	err := h.client.Ping(ctx)
	switch {
	case errors.Is(err, ErrNotConfigured):
		httpx.JSON(w, http.StatusOK, RendererStatus{Status: "disabled"})
	case err != nil:
		h.logger.Warn("pdf renderer unreachable", slog.String("renderer", h.client.baseURL), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Renderer Unavailable", "pdf renderer did not answer its health check")
	default:
		httpx.JSON(w, http.StatusOK, RendererStatus{Status: "ok", LatencyMS: h.now().Sub(start).Milliseconds()})
	}
}
