// Package httptransport assembles the HTTP API: client-facing screening
// routes behind bearer auth, provider callbacks behind the shared callback
// secret, and the unauthenticated operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/platform/middleware"
	screeninghandler "vigil/internal/screening/handler"
	watchlisthandler "vigil/internal/watchlist/handler"
	"vigil/pkg/platform/httputil"
)

// Deps collects everything the router mounts.
type Deps struct {
	Screening *screeninghandler.Handler
	Watchlist *watchlisthandler.Handler
	Validator middleware.TokenValidator
	// CallbackSecret guards the provider callback routes. Empty disables the
	// check (development mode).
	CallbackSecret string
	// Health reports readiness of downstream dependencies.
	Health func() error
	Logger *slog.Logger
}

// NewRouter wires all endpoints with their middleware chains.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler(deps.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Client-facing routes: authenticated API clients.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
			deps.Screening.Register(r)
			if deps.Watchlist != nil {
				deps.Watchlist.Register(r)
			}
		})

		// Provider callbacks: machine callers with the shared secret.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCallbackSecret(deps.CallbackSecret, deps.Logger))
			deps.Screening.RegisterCallbacks(r)
		})
	})

	return r
}

func healthHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"reason": err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
