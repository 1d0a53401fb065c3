package relay

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
)

// Outcome is the terminal state of a relay loop.
type Outcome int

const (
	ClosedByPeer Outcome = iota
	ClosedByCircuitBreaker
)

func (o Outcome) String() string {
	switch o {
	case ClosedByPeer:
		return "closed_by_peer"
	case ClosedByCircuitBreaker:
		return "circuit_breaker"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Run drives the relay loop over t until the connection goes away or
// too many consecutive cycles fail. The cycle counter lives here, so
// it restarts from zero with every connection.
func (e *Engine) Run(ctx context.Context, t Transport, connID string) Outcome {
	log := e.log.With(logger.String("conn", connID))
	log.Info("relay loop started")

	outcome := e.run(ctx, t, log)

	e.metrics.LoopStopped(outcome.String())
	log.Info("relay loop stopped", logger.String("outcome", outcome.String()))
	return outcome
}

func (e *Engine) run(ctx context.Context, t Transport, log logger.Logger) Outcome {
	consecutive := 0

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return ClosedByPeer
		}

		err := e.cycle(ctx, t, cycle, log)
		if err == nil {
			consecutive = 0
			continue
		}
		if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
			return ClosedByPeer
		}

		consecutive++
		e.metrics.CycleFault()
		log.Error("relay cycle failed",
			logger.Int("cycle", cycle),
			logger.Int("consecutive", consecutive),
			logger.Error(err),
		)

		if consecutive >= e.timing.MaxConsecutiveErrors {
			log.Error("circuit breaker open, stopping relay loop",
				logger.Int("consecutive", consecutive),
			)
			return ClosedByCircuitBreaker
		}
		if e.sleep(ctx, e.timing.ErrorBackoff) != nil {
			return ClosedByPeer
		}
	}
}

func (e *Engine) cycle(ctx context.Context, t Transport, n int, log logger.Logger) error {
	for _, id := range e.store.Order() {
		if err := e.checkEndpoint(ctx, t, id, log); err != nil {
			return err
		}
		if err := e.sleep(ctx, e.timing.EndpointGap); err != nil {
			return err
		}
	}
	if err := e.sleep(ctx, e.timing.CyclePause); err != nil {
		return err
	}

	if every := e.timing.StatusEveryCycles; every > 0 && n%every == 0 {
		e.persist.SaveStatus(ctx)
		st := e.store.Stats()
		log.Info("relay progress",
			logger.Int("cycle", n),
			logger.Int64("relayed", st.MessagesRelayed),
			logger.Int("connections", e.store.Active()),
		)
	}
	return nil
}

func (e *Engine) checkEndpoint(ctx context.Context, t Transport, id string, log logger.Logger) error {
	desc, ok := e.store.Descriptor(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}

	reply, err := t.Request(ctx, protocol.NewScrapeRequest(desc), e.timing.ScrapeTimeout)
	switch {
	case errors.Is(err, ErrReplyTimeout):
		e.store.SetStatus(id, domain.StatusTimeout)
		e.metrics.ScrapeTimeout(id)
		log.Warn("scrape timed out", logger.String("endpoint", id))
		return nil
	case err != nil:
		return fmt.Errorf("scrape %s: %w", id, err)
	}

	latest, ok := reply.(protocol.Latest)
	if !ok || latest.Who != id {
		log.Debug("ignoring unrelated reply",
			logger.String("endpoint", id),
			logger.String("action", reply.Action()),
		)
		return nil
	}

	if latest.Text != nil {
		text := *latest.Text
		if prev, claimed := e.store.Claim(id, text); claimed {
			return e.relayNew(ctx, t, desc, text, prev, log)
		}
	}

	if latest.Error != "" {
		e.store.SetStatus(id, domain.StatusError)
		log.Warn("scrape reported an error",
			logger.String("endpoint", id),
			logger.String("error", latest.Error),
		)
		return nil
	}
	e.store.SetStatus(id, domain.StatusActive)
	return nil
}

// relayNew journals a freshly detected message and forwards it to the
// peer. The text stays claimed even if forwarding fails so it is never
// delivered twice.
func (e *Engine) relayNew(ctx context.Context, t Transport, src domain.Descriptor, text string, prev *string, log logger.Logger) error {
	rec := domain.MessageRecord{
		Sender: src.Name,
		Text:   text,
		Metadata: map[string]any{
			"action": "message_received",
			"length": utf8.RuneCountInString(text),
		},
	}
	if err := e.journal(ctx, src.ID, rec); err != nil {
		e.store.Release(src.ID, text, prev)
		return fmt.Errorf("journal message from %s: %w", src.ID, err)
	}

	log.Info("new message",
		logger.String("from", src.ID),
		logger.String("preview", logger.Preview(text)),
	)

	fwdErr := e.forward(ctx, t, src.ID, text, log)

	n := e.store.CountRelay()
	e.metrics.Relayed()
	if every := e.timing.BackupEveryRelays; every > 0 && n%every == 0 {
		e.persist.Backup(ctx)
	}
	e.store.SetStatus(src.ID, domain.StatusActive)

	return fwdErr
}
