package relay

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
)

// forward injects text into the peer of sourceID. Rejections and
// timeouts are logged only; the caller counts the relay either way.
// The connection closing is the one failure handed back.
func (e *Engine) forward(ctx context.Context, t Transport, sourceID, text string, log logger.Logger) error {
	targetID, ok := e.store.Peer(sourceID)
	if !ok {
		log.Error("no peer for endpoint", logger.String("endpoint", sourceID))
		return nil
	}
	target, _ := e.store.Descriptor(targetID)

	reply, err := t.Request(ctx, protocol.NewInjectRequest(target, text), e.timing.ForwardTimeout)
	if err != nil {
		if errors.Is(err, ErrConnClosed) {
			return err
		}
		e.metrics.ForwardFailed(targetID)
		log.Warn("forward failed",
			logger.String("from", sourceID),
			logger.String("to", targetID),
			logger.Error(err),
		)
		return nil
	}

	sent, ok := reply.(protocol.Sent)
	if ok && sent.OK {
		log.Info("message forwarded",
			logger.String("from", sourceID),
			logger.String("to", targetID),
		)
		return nil
	}

	reason := "unexpected reply " + reply.Action()
	if ok {
		reason = sent.Error
	}
	e.metrics.ForwardFailed(targetID)
	log.Warn("forward rejected",
		logger.String("from", sourceID),
		logger.String("to", targetID),
		logger.String("reason", reason),
	)
	return nil
}
