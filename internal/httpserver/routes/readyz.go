package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/handlers"
)

func init() { Register("probes", registerProbes, middleware.Timeout(2*time.Second)) }

func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))
}
