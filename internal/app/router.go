package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/KantanPro/ktp-ledger/internal/ledger/items"
	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/internal/shared"
	"github.com/KantanPro/ktp-ledger/jobs"
	"github.com/KantanPro/ktp-ledger/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Nonces        *shared.NonceManager
	LedgerHandler *items.Handler
	ReportHandler *report.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with the ledger routes.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	rateLimit := 0
	if params.Config != nil {
		rateLimit = params.Config.AjaxRateLimit
	}
	r.With(AjaxRateLimit(rateLimit)).Post("/session", sessionHandler(params.Nonces))

	if params.LedgerHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(AjaxRateLimit(rateLimit))
			r.Use(NonceMiddleware(params.Nonces, logger))
			params.LedgerHandler.MountRoutes(r)
			params.LedgerHandler.MountExportRoutes(r)
		})
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
