// Package server wires the hub's HTTP surface: chi routing, CORS, the
// X-Function-Key gate on operator endpoints, and OpenTelemetry
// instrumentation.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Deps collects every handler the router mounts. All handler fields are
// required except RPATester, which is nil when RPA submission is disabled.
// An empty AllowedOrigins allows every origin, and an empty FunctionKey
// disables the key check.
type Deps struct {
	Logger         *zap.Logger
	FunctionKey    string
	Ingress        http.Handler
	Subscriptions  *SubscriptionsHandler
	StatesInit     http.Handler
	Health         http.Handler
	RPATester      http.Handler
	AllowedOrigins []string
}

// New builds the hub's root http.Handler.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	r.Handle("/ingress", otelhttp.NewHandler(deps.Ingress, "ingress"))

	r.Group(func(protected chi.Router) {
		protected.Use(functionKeyAuth(deps.FunctionKey))
		protected.Route("/subscriptions", func(sr chi.Router) {
			sr.Get("/", deps.Subscriptions.List)
			sr.Post("/", deps.Subscriptions.Create)
			sr.Delete("/{id}", deps.Subscriptions.Delete)
			sr.Post("/sync", deps.Subscriptions.Sync)
		})
		protected.Handle("/states/init", otelhttp.NewHandler(deps.StatesInit, "states-init"))
		protected.Handle("/health", deps.Health)
	})

	if deps.RPATester != nil {
		r.Handle("/rpa/test", otelhttp.NewHandler(deps.RPATester, "rpa-test"))
	}

	return r
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Function-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// functionKeyAuth rejects requests missing the configured X-Function-Key
// header. An empty key disables the check, matching local-dev usage where
// no key has been provisioned yet.
func functionKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("X-Function-Key") != key {
				http.Error(w, "missing or invalid function key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
