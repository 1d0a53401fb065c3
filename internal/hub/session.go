package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
	"github.com/MrSnakeDoc/relaybridge/internal/relay"
)

// session is one automation client connection. A single goroutine reads
// from the socket: replies (latest/sent) land in the reply slot for the
// relay loop, everything else goes to the dispatcher. Writes from the
// relay loop, the dispatcher and the pinger are serialized by writeMu.
type session struct {
	id    string
	conn  *websocket.Conn
	clock clock.Clock
	log   logger.Logger
	opts  Options

	writeMu sync.Mutex

	replies   chan protocol.Command
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, clk clock.Clock, log logger.Logger, opts Options) *session {
	return &session{
		id:      id,
		conn:    conn,
		clock:   clk,
		log:     log,
		opts:    opts,
		replies: make(chan protocol.Command, 1),
		closed:  make(chan struct{}),
	}
}

// Send writes one JSON envelope.
func (s *session) Send(_ context.Context, v any) error {
	select {
	case <-s.closed:
		return relay.ErrConnClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.close()
		return fmt.Errorf("%w: %v", relay.ErrConnClosed, err)
	}
	return nil
}

// Request sends v and waits for the next reply envelope. Replies that
// arrived before the request was sent belong to an earlier request and
// are dropped.
func (s *session) Request(ctx context.Context, v any, timeout time.Duration) (protocol.Command, error) {
	s.drain()

	if err := s.Send(ctx, v); err != nil {
		return nil, err
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case reply := <-s.replies:
		return reply, nil
	case <-timer.C:
		return nil, relay.ErrReplyTimeout
	case <-s.closed:
		return nil, relay.ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) drain() {
	for {
		select {
		case <-s.replies:
		default:
			return
		}
	}
}

// deliver puts a reply in the slot, replacing an unconsumed one.
func (s *session) deliver(c protocol.Command) {
	select {
	case s.replies <- c:
		return
	default:
	}
	select {
	case <-s.replies:
	default:
	}
	select {
	case s.replies <- c:
	default:
	}
}

// readLoop runs until the socket fails or closes. It always returns
// relay.ErrConnClosed so the connection's other tasks are cancelled.
func (s *session) readLoop(ctx context.Context, engine *relay.Engine) error {
	defer s.close()

	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("connection dropped", logger.Error(err))
			} else {
				s.log.Debug("connection closed", logger.Error(err))
			}
			return relay.ErrConnClosed
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		cmd, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn("dropping malformed envelope",
				logger.Error(err),
				logger.String("preview", logger.Preview(string(data))),
			)
			continue
		}
		if protocol.IsReply(cmd) {
			s.deliver(cmd)
			continue
		}

		if err := engine.Dispatch(ctx, s, cmd); errors.Is(err, relay.ErrConnClosed) {
			return relay.ErrConnClosed
		}
	}
}

// pinger keeps idle connections alive and detects dead peers.
func (s *session) pinger(ctx context.Context) error {
	if s.opts.PingPeriod <= 0 {
		return nil
	}
	ticker := s.clock.Ticker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug("ping failed", logger.Error(err))
				s.close()
				return relay.ErrConnClosed
			}
		}
	}
}

// goingAway tells the peer the server is shutting down, then closes.
func (s *session) goingAway() {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(s.opts.WriteWait),
	)
	s.writeMu.Unlock()
	s.close()
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}
