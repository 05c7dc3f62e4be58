package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"citygen/internal/http/handlers"
	"citygen/internal/middleware"
)

// RouterOptions tunes the cross-cutting middleware.
type RouterOptions struct {
	RateLimitPerMin int
	CORSOrigins     []string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", app.RunsList)
		r.Get("/{id}", app.RunsGet)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, 10*time.Minute)).Post("/", app.RunsCreate)
	})

	return r
}
