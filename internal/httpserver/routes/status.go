package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/mw"
)

func init() { Register("operator", registerOperator, middleware.Timeout(5*time.Second)) }

func registerOperator(r chi.Router, d deps.Deps) {
	restricted := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	restricted.Get("/status", handlers.Status(d))
	restricted.Post("/backup", handlers.Backup(d))
	if d.Metrics != nil {
		restricted.Method("GET", "/metrics", d.Metrics.Handler())
	}
}
