package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
)

type healthzResponse struct {
	Status            string  `json:"status"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveConnections int     `json:"active_connections"`
	Version           string  `json:"version,omitempty"`
	Commit            string  `json:"commit,omitempty"`
	BuildDate         string  `json:"build_date,omitempty"`
	GoVersion         string  `json:"go_version,omitempty"`
}

func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	now := d.TimeNow
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		active := 0
		if d.Store != nil {
			active = d.Store.Active()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(healthzResponse{
			Status:            "ok",
			ActiveConnections: active,
			Version:           d.Version,
			Commit:            d.Commit,
			BuildDate:         d.BuildDate,
			GoVersion:         d.GoVersion,
			UptimeSeconds:     now().Sub(start).Seconds(),
		})
	}
}
