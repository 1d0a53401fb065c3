// Package hub accepts automation clients over websocket and binds each
// one to its own relay loop and command read loop.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/metrics"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
	"github.com/MrSnakeDoc/relaybridge/internal/relay"
)

type Options struct {
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// CheckOrigin decides whether a browser origin may connect. Nil
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool

	Metrics *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		PingPeriod:     30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Hub is the connection manager. It owns the active set and starts a
// relay loop plus a read loop for every accepted client.
type Hub struct {
	engine   *relay.Engine
	log      logger.Logger
	clock    clock.Clock
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closing  bool
	wg       sync.WaitGroup
}

func New(engine *relay.Engine, log logger.Logger, opts Options) *Hub {
	def := DefaultOptions()
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engine: engine,
		log:    log,
		clock:  engine.Clock(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed",
			logger.String("remote", r.RemoteAddr),
			logger.Error(err),
		)
		return
	}

	id := uuid.NewString()
	s := newSession(id, conn, h.clock, h.log.With(logger.String("conn", id)), h.opts)
	if !h.register(s) {
		s.goingAway()
		return
	}
	defer h.unregister(s)

	s.log.Info("client connected", logger.String("remote", r.RemoteAddr))
	h.serve(s)
}

func (h *Hub) serve(s *session) {
	store := h.engine.Store()
	if err := s.Send(h.ctx, protocol.NewGreeting(h.clock.Now(), store.Order())); err != nil {
		s.log.Warn("greeting failed", logger.Error(err))
		return
	}

	g, ctx := errgroup.WithContext(h.ctx)
	g.Go(func() error {
		return s.readLoop(ctx, h.engine)
	})
	g.Go(func() error {
		if h.engine.Run(ctx, s, s.id) == relay.ClosedByCircuitBreaker {
			s.log.Warn("relay loop stopped by circuit breaker, connection stays open for commands")
		}
		return nil
	})
	g.Go(func() error {
		return s.pinger(ctx)
	})

	_ = g.Wait()
	s.close()
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.sessions[s.id] = s
	h.wg.Add(1)

	n := h.engine.Store().ConnectionOpened()
	h.opts.Metrics.SetActiveConnections(n)
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()

	if !ok {
		return
	}
	n := h.engine.Store().ConnectionClosed()
	h.opts.Metrics.SetActiveConnections(n)
	s.log.Info("client disconnected", logger.Int("active", n))
	h.wg.Done()
}

// Shutdown stops accepting clients, closes every connection and waits
// for their tasks to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	h.cancel()
	for _, s := range open {
		s.goingAway()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
