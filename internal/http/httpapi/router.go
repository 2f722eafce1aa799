package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"brandgen/internal/http/handlers"
	"brandgen/internal/infra"
	"brandgen/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	if cfg.ArtifactBackend == infra.BackendFile && cfg.StoragePath != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.RateLimit(cfg.IPRateLimitPerMin, time.Minute),
			middleware.AuthJWT(cfg.JWTSecret),
			middleware.Locale("en", app.CountryLookup),
		)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/{id}", app.JobGet)
			r.Post("/{id}/regenerate", app.JobRegenerate)
			r.Post("/{id}/cancel", app.JobCancel)
			r.Get("/{id}/events", app.JobEvents)
			r.Get("/{id}/archive", app.JobArchive)
		})
		r.Get("/entities/{id}/events", app.EntityEvents)
		r.Get("/ws", app.WebSocket)
		r.Get("/credits", app.Credits)
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.InternalToken(cfg.InternalToken))
		r.Post("/refill", app.Refill)
		r.Get("/stats", app.StatsSummary)
	})

	return r
}
