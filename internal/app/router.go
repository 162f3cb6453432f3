package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/reporting"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/tagihan"
	"github.com/sipkd-core/sipkd/internal/tax"
	"github.com/sipkd-core/sipkd/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	TagihanHandler   *tagihan.Handler
	TaxHandler       *tax.Handler
	ReportingHandler *reporting.Handler
	AuditHandler     *audit.Handler
	SequenceHandler  *sequence.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with SIPKD defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/tagihan", func(r chi.Router) {
			params.TagihanHandler.MountRoutes(r)
			if params.TaxHandler != nil {
				params.TaxHandler.MountRoutes(r)
			}
		})
		if params.ReportingHandler != nil {
			r.Route("/reports", params.ReportingHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.SequenceHandler != nil {
			r.Route("/sequences", params.SequenceHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
