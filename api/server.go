/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/projections/*   Forecast import and lifecycle
  /api/po-imports      PO fact import + matching
  /api/expirations/*   Expiration scan and verification
  /api/reports/*       Validation dashboard reports
  /api/runs            Batch run audit
  /api/scenarios/*     Demo scenarios
  /api/reset           Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Projection routes
		r.Route("/projections", func(r chi.Router) {
			r.Get("/", h.ListProjections)
			r.Post("/import", h.ImportProjections)
			r.Get("/{id}", h.GetProjection)
			r.Post("/{id}/match", h.ManualMatch)
			r.Post("/{id}/unmatch", h.Unmatch)
			r.Post("/{id}/remove", h.RemoveProjection)
			r.Post("/{id}/order-type", h.UpdateOrderType)
		})

		// PO import routes
		r.Post("/po-imports", h.ImportPOFacts)
		r.Get("/po-facts/{poNumber}", h.GetPOFact)

		// Expiration routes
		r.Route("/expirations", func(r chi.Router) {
			r.Get("/", h.ListExpirations)
			r.Post("/check", h.CheckExpirations)
			r.Get("/{id}", h.GetExpiration)
			r.Post("/{id}/verify", h.VerifyExpiration)
			r.Post("/{id}/restore", h.RestoreExpiration)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/validation-summary", h.ValidationSummary)
			r.Get("/overdue", h.OverdueReport)
			r.Get("/variance", h.VarianceReport)
			r.Get("/spo", h.SpoReport)
		})

		// Operations routes
		r.Get("/runs", h.ListRuns)
		r.Post("/reset", h.Reset)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
