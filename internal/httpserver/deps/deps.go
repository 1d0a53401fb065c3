package deps

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/metrics"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time // for testing, defaults to time.Now
	AllowedHosts   []string         // Host headers allowed to reach the websocket
	AllowedCIDRS   []string         // IPs allowed to access status/backup/metrics
	TrustProxy     bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	WSBurst        int              // websocket upgrades per IP before throttling
	WSRefillPerMin int              // websocket upgrade tokens refilled per IP per minute
	Store          *state.Store     // shared relay state
	Health         func() protocol.HealthReport
	Hub            http.Handler     // websocket connection manager
	Metrics        *metrics.Metrics // nil disables /metrics
	RedisClient    *redis.Client    // nil when the redis mirror is disabled
	BackupTrigger  chan struct{}    // manual full-backup trigger (buffered, size 1)
	Ready          *atomic.Bool     // flipped once the start-up snapshot was taken
}
