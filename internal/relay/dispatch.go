package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
)

// Dispatch executes one client command and writes its response to s.
// Handler errors and panics are turned into an error envelope here; the
// connection stays open. Only ErrConnClosed is returned to the caller.
func (e *Engine) Dispatch(ctx context.Context, s Sender, cmd protocol.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.handlerFault(ctx, s, cmd, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := e.handle(ctx, s, cmd); err != nil {
		return e.handlerFault(ctx, s, cmd, err)
	}
	return nil
}

func (e *Engine) handlerFault(ctx context.Context, s Sender, cmd protocol.Command, err error) error {
	if errors.Is(err, ErrConnClosed) {
		return err
	}
	e.log.Error("command failed",
		logger.String("action", cmd.Action()),
		logger.Error(err),
	)
	if sendErr := s.Send(ctx, protocol.NewError(cmd.Action(), err)); errors.Is(sendErr, ErrConnClosed) {
		return sendErr
	}
	return nil
}

func (e *Engine) handle(ctx context.Context, s Sender, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.GetLatest:
		return e.getLatest(ctx, s, c)
	case protocol.SendMessage:
		return e.sendMessage(ctx, s, c)
	case protocol.HealthCheck:
		return s.Send(ctx, e.HealthReport())
	case protocol.EmergencyBackup:
		e.persist.Backup(ctx)
		return s.Send(ctx, protocol.NewBackupComplete())
	case protocol.EmergencyStatus:
		return e.emergencyStatus(ctx, s, c)
	case protocol.Heartbeat:
		return s.Send(ctx, protocol.NewHeartbeatAck(e.clock.Now()))
	case protocol.Latest, protocol.Sent:
		e.log.Debug("reply outside a pending request", logger.String("action", c.Action()))
		return nil
	case protocol.Unknown:
		e.log.Warn("unknown action", logger.String("action", c.Name))
		return nil
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
}

func (e *Engine) getLatest(ctx context.Context, s Sender, c protocol.GetLatest) error {
	id := strings.ToLower(c.Who)
	desc, ok := e.store.Descriptor(id)
	if !ok {
		e.rejected(c, ErrUnknownEndpoint)
		return s.Send(ctx, protocol.NewLatestFailure(c.Who, "Unknown AI: "+c.Who))
	}
	return s.Send(ctx, protocol.NewScrapeRequest(desc))
}

func (e *Engine) sendMessage(ctx context.Context, s Sender, c protocol.SendMessage) error {
	id := strings.ToLower(c.Who)
	desc, ok := e.store.Descriptor(id)
	if !ok {
		e.rejected(c, ErrUnknownEndpoint)
		return s.Send(ctx, protocol.NewSentFailure(c.Who, "Unknown AI: "+c.Who))
	}
	if c.Text == "" {
		e.rejected(c, ErrEmptyText)
		return s.Send(ctx, protocol.NewSentFailure(c.Who, "Empty message"))
	}

	if err := s.Send(ctx, protocol.NewInjectRequest(desc, c.Text)); err != nil {
		return err
	}

	rec := domain.MessageRecord{
		Sender: strings.ToUpper(id),
		Text:   c.Text,
		Metadata: map[string]any{
			"action": "message_sent",
			"length": utf8.RuneCountInString(c.Text),
		},
	}
	if err := e.journal(ctx, id, rec); err != nil {
		return fmt.Errorf("journal manual message for %s: %w", id, err)
	}
	e.log.Info("manual message sent",
		logger.String("to", id),
		logger.String("preview", logger.Preview(c.Text)),
	)
	return nil
}

func (e *Engine) rejected(cmd protocol.Command, reason error) {
	e.log.Warn("command rejected",
		logger.String("action", cmd.Action()),
		logger.Error(reason),
	)
}

func (e *Engine) emergencyStatus(ctx context.Context, s Sender, c protocol.EmergencyStatus) error {
	for id, info := range c.AIStatus {
		st := domain.StatusDisconnected
		if info.Status != "" {
			parsed, ok := domain.ParseStatus(info.Status)
			if !ok {
				e.log.Warn("ignoring unknown endpoint status",
					logger.String("endpoint", id),
					logger.String("status", info.Status),
				)
				continue
			}
			st = parsed
		}
		if !e.store.SetStatus(strings.ToLower(id), st) {
			e.log.Warn("status for unknown endpoint", logger.String("endpoint", id))
		}
	}

	ids := make([]string, 0, len(c.TabsFound))
	for id := range c.TabsFound {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var missing []domain.Descriptor
	for _, id := range ids {
		if protocol.Truthy(c.TabsFound[id]) {
			continue
		}
		desc, ok := e.store.Descriptor(strings.ToLower(id))
		if !ok {
			e.log.Warn("tab report for unknown endpoint", logger.String("endpoint", id))
			continue
		}
		missing = append(missing, desc)
	}

	var sendErr error
	if len(missing) > 0 {
		n := e.store.RecordEmergency()
		e.metrics.Emergency()
		names := make([]string, 0, len(missing))
		for _, d := range missing {
			names = append(names, d.Name)
		}
		e.log.Warn("endpoints missing, requesting restore",
			logger.Any("missing", names),
			logger.Int64("emergencies", n),
		)
		sendErr = s.Send(ctx, protocol.NewEmergencyRestore(missing))
	}

	e.persist.SaveStatus(ctx)
	return sendErr
}

// HealthReport describes the running relay.
func (e *Engine) HealthReport() protocol.HealthReport {
	eps := e.store.Endpoints()
	statuses := make(map[string]domain.Endpoint, len(eps))
	for _, ep := range eps {
		statuses[ep.ID] = ep
	}
	up := e.store.Uptime()

	return protocol.HealthReport{
		Action:           protocol.ActionHealthReport,
		Timestamp:        e.clock.Now(),
		Uptime:           up.Truncate(time.Second).String(),
		UptimeSeconds:    up.Seconds(),
		ConnectedCount:   e.store.Active(),
		EndpointStatuses: statuses,
		Stats:            e.store.Stats(),
		SystemStatus:     protocol.SystemOperational,
	}
}
