package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/agusgarcia3007/LLM-moonitor/internal/auth"
)

type RouterConfig struct {
	SessionSecret  string
	AdminToken     string
	AllowedOrigins []string
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-api-key"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
	}).Handler)

	// Public routes
	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.NewSessionMiddleware(cfg.SessionSecret))
		r.Post("/llm-events", h.HandleLogEvent)
		r.With(auth.RequireSession).Get("/llm-events", h.HandleListEvents)
	})

	r.Route("/admin/prices", func(r chi.Router) {
		r.Use(adminOnly(cfg.AdminToken))
		r.Post("/update", h.HandleUpdatePrices)
		r.Post("/refresh", h.HandleRefreshPrices)
	})

	return r
}

// adminOnly accepts "Authorization: Bearer <token>". An empty token disables
// the admin routes.
func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
