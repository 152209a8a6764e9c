package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.topzap.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tick-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants/{tenantID}/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/", h.ListCampaigns)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Delete("/", h.DeleteCampaign)
			})
		})

		// Pure schedule preview, no writes.
		r.Post("/schedule/plan", h.PlanPreview)

		// External scheduler entry point.
		r.Post("/dispatch/tick", h.DispatchTick)
	})

	return r
}
