package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Inbound trigger hooks carry their own HMAC auth per source.
	r.Post("/hooks/{source}", g.hooks.ServeHTTP)

	// Admin endpoints, auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(g.authMiddleware())
			r.Get("/status", g.handleStatus())
			r.Get("/ws/runs", g.handleRunEvents())
			r.Route("/api", func(r chi.Router) {
				r.Get("/jobs", g.handleListJobs())
				r.Post("/jobs", g.handleCreateJob())
				r.Get("/jobs/{id}", g.handleGetJob())
				r.Put("/jobs/{id}", g.handleUpdateJob())
				r.Delete("/jobs/{id}", g.handleDeleteJob())
				r.Post("/jobs/{id}/pause", g.handlePauseJob())
				r.Post("/jobs/{id}/resume", g.handleResumeJob())
				r.Post("/jobs/{id}/reset", g.handleResetJob())
				r.Post("/jobs/{id}/run", g.handleRunNow())
				r.Get("/jobs/{id}/history", g.handleHistory())
				r.Get("/runs/{id}", g.handleGetRun())
				r.Post("/runs/{id}/approve", g.handleApprove())
				r.Get("/approvals", g.handleListApprovals())
				r.Get("/modules", g.handleListModules())
			})
		})
	}

	return r
}
