package relay

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/metrics"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

var (
	// ErrConnClosed reports that the client connection is gone. It ends
	// the relay loop without counting as a cycle fault.
	ErrConnClosed = errors.New("connection closed")

	// ErrReplyTimeout reports that no reply arrived in time.
	ErrReplyTimeout = errors.New("reply timeout")

	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrEmptyText       = errors.New("empty message")
)

// Sender writes one envelope to the client.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Transport is the per-connection link the relay loop drives. Request
// discards replies left over from earlier requests, sends v and waits
// for the next latest/sent envelope.
type Transport interface {
	Sender
	Request(ctx context.Context, v any, timeout time.Duration) (protocol.Command, error)
}

// Persistence is what the engine needs from the persistence layer.
type Persistence interface {
	AppendMessage(ctx context.Context, rec domain.MessageRecord) error
	Backup(ctx context.Context)
	SaveStatus(ctx context.Context)
}

// Timing groups the relay loop's delays and thresholds.
type Timing struct {
	ScrapeTimeout  time.Duration
	ForwardTimeout time.Duration
	EndpointGap    time.Duration
	CyclePause     time.Duration
	ErrorBackoff   time.Duration

	MaxConsecutiveErrors int
	StatusEveryCycles    int
	BackupEveryRelays    int64
}

func DefaultTiming() Timing {
	return Timing{
		ScrapeTimeout:        10 * time.Second,
		ForwardTimeout:       15 * time.Second,
		EndpointGap:          1 * time.Second,
		CyclePause:           2 * time.Second,
		ErrorBackoff:         5 * time.Second,
		MaxConsecutiveErrors: 5,
		StatusEveryCycles:    50,
		BackupEveryRelays:    10,
	}
}

// Engine runs relay loops and dispatches client commands against the
// shared store. One Engine serves every connection.
type Engine struct {
	store   *state.Store
	persist Persistence
	metrics *metrics.Metrics
	log     logger.Logger
	clock   clock.Clock
	timing  Timing
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTiming(t Timing) Option {
	return func(e *Engine) { e.timing = t }
}

func New(store *state.Store, persist Persistence, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		persist: persist,
		log:     log,
		clock:   clock.New(),
		timing:  DefaultTiming(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.timing.MaxConsecutiveErrors < 1 {
		e.timing.MaxConsecutiveErrors = 1
	}
	return e
}

// Store exposes the shared state, mainly for the connection manager.
func (e *Engine) Store() *state.Store { return e.store }

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clock }

// journal appends a record and counts it on the endpoint.
func (e *Engine) journal(ctx context.Context, endpointID string, rec domain.MessageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.clock.Now()
	}
	rec.EndpointID = endpointID
	if err := e.persist.AppendMessage(ctx, rec); err != nil {
		return err
	}
	e.store.NoteMessage(endpointID, rec.Timestamp)
	return nil
}

// sleep waits d on the engine clock, returning early with ctx's error.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := e.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
