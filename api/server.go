/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Activity:   Every request counts as user activity for the cache

ROUTE GROUPS:
  /api/stock/*          Resolution
  /api/cache            This instance's cached view
  /api/transactions     Write path
  /api/entries          Ledger queries
  /api/admin/*          Override path (secret + rate limit)
  /api/items/*          Catalog
  /api/instance/*       Lifecycle hooks
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  Only the override routes check a secret. Everything else is public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions tunes NewRouter. Zero values pick the defaults.
type RouterOptions struct {
	AllowedOrigins []string
	// OverridePerMinute and OverrideBurst limit the admin routes.
	OverridePerMinute int
	OverrideBurst     int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if opts.OverridePerMinute <= 0 {
		opts.OverridePerMinute = 6
	}
	if opts.OverrideBurst <= 0 {
		opts.OverrideBurst = 3
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", adminSecretHeader},
		AllowCredentials: true,
	}))
	r.Use(h.activity)

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.OverridePerMinute)), opts.OverrideBurst)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.GetQuantities)
			r.Get("/{code}", h.GetQuantity)
		})
		r.Get("/cache", h.GetCache)

		r.Post("/transactions", h.SubmitTransaction)
		r.Get("/entries", h.ListEntries)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(rateLimited(limiter))
			r.Put("/entries/{id}", h.EditEntry)
			r.Delete("/entries/{id}", h.DeleteEntry)
			r.Post("/snapshots", h.TakeSnapshot)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Put("/{code}", h.SaveItem)
			r.Delete("/{code}", h.DeleteItem)
		})

		r.Route("/instance", func(r chi.Router) {
			r.Post("/reactivate", h.Reactivate)
			r.Post("/online", h.ConnectivityRestored)
			r.Post("/visible", h.VisibilityRestored)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Stock Engine API\n\nSee /api/stock, /api/cache, /api/transactions\n"))
	})

	return r
}

// activity records every request as user activity. A suspended cache
// resumes here.
func (h *Handler) activity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Cache.Touch(r.Context()); err != nil {
			h.Logger.Warn("resuming cache failed", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimited(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
