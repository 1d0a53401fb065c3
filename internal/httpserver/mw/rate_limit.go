package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/relaybridge/internal/utils"
)

// RateLimitConfig configures a per-IP token bucket. It guards the
// websocket upgrade against a client stuck in a reconnect loop.
type RateLimitConfig struct {
	Burst             int           // tokens a fresh bucket starts with
	RefillPerIPPerMin int           // tokens regained per minute
	MaxEntries        int           // sweep idle buckets early past this size, 0 = no cap
	SweepInterval     time.Duration // how often idle buckets are dropped
	IdleTTL           time.Duration // a bucket unused this long is dropped
	TrustProxy        bool          // resolve IP from proxy headers when true
	Clock             clock.Clock   // defaults to the wall clock

	// OnLimited is called with the client IP of every refused request.
	OnLimited func(ip string)
}

func (c *RateLimitConfig) withDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 15 * time.Minute
	}
	c.Burst = max(c.Burst, 1)
	c.RefillPerIPPerMin = max(c.RefillPerIPPerMin, 1)
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

type bucket struct {
	tokens   float64
	refilled time.Time
	used     time.Time
}

// take refills b up to capacity and spends one token if it can. On
// refusal it returns how long until a token is available.
func (b *bucket) take(now time.Time, rate, capacity float64) (ok bool, left int, wait time.Duration) {
	if elapsed := now.Sub(b.refilled).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
		b.refilled = now
	}
	if b.tokens >= 1 {
		b.tokens--
		b.used = now
		return true, int(b.tokens), 0
	}
	secs := math.Max(1, math.Ceil((1-b.tokens)/rate))
	return false, 0, time.Duration(secs) * time.Second
}

type limiter struct {
	cfg      RateLimitConfig
	rate     float64 // tokens per second
	capacity float64

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	cfg.withDefaults()
	return &limiter{
		cfg:       cfg,
		rate:      float64(cfg.RefillPerIPPerMin) / 60.0,
		capacity:  float64(cfg.Burst),
		buckets:   make(map[string]*bucket),
		lastSweep: cfg.Clock.Now(),
	}
}

func (l *limiter) allow(ip string, now time.Time) (bool, int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.cfg.MaxEntries > 0 && len(l.buckets) >= l.cfg.MaxEntries
	if full || now.Sub(l.lastSweep) >= l.cfg.SweepInterval {
		l.sweep(now)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: l.capacity, refilled: now, used: now}
		l.buckets[ip] = b
	}
	return b.take(now, l.rate, l.capacity)
}

func (l *limiter) sweep(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.used) > l.cfg.IdleTTL {
			delete(l.buckets, ip)
		}
	}
	l.lastSweep = now
}

// RateLimit throttles requests per client IP with a token bucket.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	l := newLimiter(cfg)
	limit := strconv.Itoa(l.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, l.cfg.TrustProxy)
			ok, left, wait := l.allow(ip, l.cfg.Clock.Now())

			// Headers go out before the handler runs: a websocket upgrade
			// writes its own response.
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(left))
			if !ok {
				if l.cfg.OnLimited != nil {
					l.cfg.OnLimited(ip)
				}
				h.Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
