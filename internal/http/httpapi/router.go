package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genserver/internal/http/handlers"
	"genserver/internal/infra"
	"genserver/internal/middleware"
)

// NewRouter wires the public job API, the provider webhook and the
// operational endpoints.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, registry *prometheus.Registry) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(middleware.Owner)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.CreateJob)
		r.Get("/{job_id}", app.GetJob)
		r.Post("/{job_id}/cancel", app.CancelJob)
	})
	r.Get("/v1/balance", app.Balance)

	r.Post("/v1/provider/webhook", app.ProviderWebhook)

	return r
}
