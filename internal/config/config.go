package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8765"
	ShutdownTimeout time.Duration // ex: 10s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	EndpointsFile  string // optional YAML endpoint pair, empty = built-in pair
	DataDir        string // base directory for the files below
	JournalFile    string // append-only dialog journal
	BackupFile     string // full snapshot document
	StatusFile     string // status snapshot document
	RestoreOnStart bool   // reload last seen texts from the previous backup

	// Relay loop timing
	ScrapeTimeout        time.Duration
	ForwardTimeout       time.Duration
	EndpointGap          time.Duration
	CyclePause           time.Duration
	ErrorBackoff         time.Duration
	MaxConsecutiveErrors int
	StatusEveryCycles    int
	BackupEveryRelays    int64
	StatusInterval       time.Duration // periodic status snapshot, 0 disables

	// Redis mirror (optional, empty address disables it)
	RedisAddr             string
	RedisUser             string
	RedisPassword         string
	RedisPasswordRequired bool
	RedisDB               int
	RedisDT               time.Duration // dial timeout
	RedisRT               time.Duration // read timeout
	RedisWT               time.Duration // write timeout
	RedisMaxWait          time.Duration // max wait between retries
	RedisPingTimeout      time.Duration // timeout for each ping attempt
	RedisPoolSize         int
	RedisConnectTimeout   time.Duration // total time to retry connecting
	RedisRetryInterval    time.Duration // initial wait between retries, grows exponentially
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedOrigins []string // websocket Origin allow-list, empty = any origin
	AllowedHosts   []string // optional, restrict the websocket route to specific Host headers
	AllowedCIDRS   []string // optional, restrict operator routes to specific IPs or CIDRs
	TrustProxy     bool     // true => trust X-Forwarded-For headers
	WSBurst        int      // websocket upgrades allowed in a burst per client IP
	WSRefillPerMin int      // websocket upgrade tokens refilled per minute
}

func Load() *Config {
	dataDir := getenv("RELAY_DATA_DIR", "data")

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("RELAY_LISTEN_PORT", ":8765"),
		ShutdownTimeout: mustDuration("RELAY_SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("RELAY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("RELAY_PRETTY_LOG", true),

		// Files
		EndpointsFile:  getenv("RELAY_ENDPOINTS_FILE", ""),
		DataDir:        dataDir,
		JournalFile:    getenv("RELAY_JOURNAL_FILE", filepath.Join(dataDir, "dialog.log")),
		BackupFile:     getenv("RELAY_BACKUP_FILE", filepath.Join(dataDir, "backup.json")),
		StatusFile:     getenv("RELAY_STATUS_FILE", filepath.Join(dataDir, "status.json")),
		RestoreOnStart: mustBool("RELAY_RESTORE_ON_START", true),

		// Relay loop
		ScrapeTimeout:        mustDuration("RELAY_SCRAPE_TIMEOUT", 10*time.Second),
		ForwardTimeout:       mustDuration("RELAY_FORWARD_TIMEOUT", 15*time.Second),
		EndpointGap:          mustDuration("RELAY_ENDPOINT_GAP", 1*time.Second),
		CyclePause:           mustDuration("RELAY_CYCLE_PAUSE", 2*time.Second),
		ErrorBackoff:         mustDuration("RELAY_ERROR_BACKOFF", 5*time.Second),
		MaxConsecutiveErrors: getenvInt("RELAY_MAX_CONSECUTIVE_ERRORS", 5),
		StatusEveryCycles:    getenvInt("RELAY_STATUS_EVERY_CYCLES", 50),
		BackupEveryRelays:    int64(getenvInt("RELAY_BACKUP_EVERY_RELAYS", 10)),
		StatusInterval:       mustDuration("RELAY_STATUS_INTERVAL", time.Minute),

		// Redis mirror
		RedisAddr:             getenv("RELAY_REDIS_ADDR", ""),
		RedisUser:             getenv("RELAY_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("RELAY_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("RELAY_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("RELAY_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedOrigins: splitAndTrim(getenv("RELAY_ALLOWED_ORIGINS", "")),
		AllowedHosts:   splitAndTrim(getenv("RELAY_ALLOWED_HOSTS", "")),
		AllowedCIDRS:   parseAllowedIPs(getenv("RELAY_ALLOWED_CIDRS", "127.0.0.1/32, ::1/128")),
		TrustProxy:     mustBool("RELAY_TRUST_PROXY", false),
		WSBurst:        getenvInt("RELAY_WS_BURST", 10),
		WSRefillPerMin: getenvInt("RELAY_WS_REFILL_PER_MIN", 30),
	}

	// The password only matters when the mirror is enabled
	if cfg.RedisEnabled() && cfg.RedisPasswordRequired {
		cfg.RedisPassword = requireEnv("RELAY_REDIS_PASSWORD")
	}

	if cfg.MaxConsecutiveErrors < 1 {
		panic(fmt.Sprintf("❌ FATAL: RELAY_MAX_CONSECUTIVE_ERRORS must be >= 1, got %d", cfg.MaxConsecutiveErrors))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// RedisEnabled reports whether the Redis mirror is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// OriginAllowed reports whether a websocket Origin header may connect.
// An empty allow-list or a missing header (non-browser client) is accepted.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
