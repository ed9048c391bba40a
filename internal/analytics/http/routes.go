package analytichttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

// MountRoutes registers report download endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export limit reached, try again in a minute")
		}),
	)

	r.Get("/summary.csv", h.handleSummaryCSV)
	r.Get("/monthly.csv", h.handleMonthlyCSV)
	r.Get("/monthly.svg", h.handleChart)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/entries.csv", h.handleEntriesCSV)
		gr.Get("/report.pdf", h.handlePDF)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if user := strings.TrimSpace(r.Header.Get("X-User")); user != "" {
		return "user:" + user, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
