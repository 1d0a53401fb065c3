package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relaybridge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	protocol.HealthReport
	Running    bool                       `json:"running"`
	RelayMode  string                     `json:"relay_mode"`
	Components map[string]componentStatus `json:"components"`
}

// Status reports the same document a client gets for health_check plus
// the state of the optional redis mirror.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := d.Health()
		running := d.Store.StatusReport().Running

		components := map[string]componentStatus{
			"relay": {
				OK:   running,
				Mode: relayMode(report.ConnectedCount),
			},
			"redis_mirror": checkRedis(r.Context(), d),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusResponse{
			HealthReport: report,
			Running:      running,
			RelayMode:    determineRelayMode(components),
			Components:   components,
		})
	}
}

func relayMode(connected int) string {
	if connected == 0 {
		return "waiting-for-client"
	}
	return "relaying"
}

func determineRelayMode(components map[string]componentStatus) string {
	if relay, ok := components["relay"]; ok && !relay.OK {
		return "stopped"
	}
	// The mirror is optional; losing it only costs the secondary copy.
	if mirror, ok := components["redis_mirror"]; ok && !mirror.OK && mirror.Mode != "disabled" {
		return "degraded"
	}
	return "operational"
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "disabled",
			Impact: "file-persistence-only",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "mirror-writes-failing",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "journal-and-snapshots-mirrored",
	}
}
