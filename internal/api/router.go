package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts every route. Reference data, health and metrics are open;
// everything else requires a known actor and is rate limited per actor.
func NewRouter(s Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(Correlation)
	r.Use(AccessLog(s.logger, s.metrics))
	r.NotFound(notFoundHandler)

	r.Get("/healthz", s.Health)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Get("/users", s.ListUsers)
	r.Get("/document-types", s.ListDocumentTypes)

	r.Group(func(r chi.Router) {
		r.Use(RequireActor(s.directory, s.cfg.ActorHeader))
		r.Use(RateLimit(s.limiter))

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.ListWorkflows)
			r.Post("/", s.CreateWorkflow)
			r.Get("/{id}", s.GetWorkflow)
		})
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.ListDocuments)
			r.Post("/", s.CreateDocument)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetDocument)
				r.Post("/signatures", s.CaptureSignature)
				r.Post("/advance", s.Advance)
				r.Post("/versions", s.PromoteVersion)
				r.Post("/archive", s.Archive)
				r.Get("/audit", s.DocumentAudit)
				r.Post("/exports", s.EnqueueExport)
			})
		})
		r.Get("/audit", s.AuditTrail)
		r.Get("/audit/verify", s.VerifyAudit)
		r.Get("/compliance/snapshot", s.Snapshot)
		r.Get("/exports/{jobId}", s.GetExport)
		r.Delete("/exports/{jobId}", s.CancelExport)
	})
	return r
}
