package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	analytichttp "github.com/textilehq/backoffice/internal/analytics/http"
	audithttp "github.com/textilehq/backoffice/internal/audit/http"
	"github.com/textilehq/backoffice/internal/catalog"
	"github.com/textilehq/backoffice/internal/inventory"
	"github.com/textilehq/backoffice/internal/observability"
	"github.com/textilehq/backoffice/internal/platform/httpx"
	"github.com/textilehq/backoffice/internal/profitloss"
	"github.com/textilehq/backoffice/internal/sales"
	"github.com/textilehq/backoffice/jobs"
	"github.com/textilehq/backoffice/report"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	ProfitLossHandler *profitloss.Handler
	ExportHandler     *analytichttp.Handler
	CatalogHandler    *catalog.Handler
	InventoryHandler  *inventory.Handler
	SalesHandler      *sales.Handler
	ReportHandler     *report.Handler
	AuditHandler      *audithttp.Handler
	JobHandler        *jobs.Handler

	// Health lists dependencies probed by /healthz.
	Health map[string]Pinger
}

// NewRouter constructs the chi.Router with back office defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Health))

	if params.ProfitLossHandler != nil {
		r.Route("/profit-loss", func(r chi.Router) {
			params.ProfitLossHandler.MountRoutes(r)
			if params.ExportHandler != nil {
				params.ExportHandler.MountRoutes(r)
			}
		})
	}
	if params.CatalogHandler != nil {
		r.Route("/catalog", params.CatalogHandler.MountRoutes)
	}
	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	if params.SalesHandler != nil {
		r.Route("/sales", params.SalesHandler.MountRoutes)
	}
	if params.ReportHandler != nil {
		r.Route("/reports", params.ReportHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})
	return r
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{Status: "ok"}
		if len(checks) > 0 {
			report.Checks = make(map[string]string, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			for name, p := range checks {
				if p == nil {
					continue
				}
				if err := p.Ping(ctx); err != nil {
					report.Status = "degraded"
					report.Checks[name] = err.Error()
					continue
				}
				report.Checks[name] = "ok"
			}
		}
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, report)
	}
}
