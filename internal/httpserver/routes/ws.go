package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/mw"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
)

func init() { Register("websocket", registerWS) }

// The automation client historically dials the bare address, so the
// upgrade is served on "/" as well as "/ws".
func registerWS(r chi.Router, d deps.Deps) {
	if d.Hub == nil {
		return
	}
	ws := r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.WSBurst,
			RefillPerIPPerMin: d.WSRefillPerMin,
			MaxEntries:        4096,
			TrustProxy:        d.TrustProxy,
			OnLimited: func(ip string) {
				d.Metrics.UpgradeThrottled()
				d.Logger.Warn("websocket upgrade throttled", logger.String("ip", ip))
			},
		}),
	)
	ws.Method("GET", "/ws", d.Hub)
	ws.Method("GET", "/", d.Hub)
}
