package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
)

func TestDispatchSendMessage(t *testing.T) {
	e, store, persist, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.SendMessage{Who: "a", Text: "hello"}))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, protocol.InjectRequest{
		Action:   protocol.ActionSendMessage,
		Location: "alpha.example/chat",
		Selector: "textarea",
		Text:     "hello",
		Who:      "a",
	}, tr.sent[0])

	require.Len(t, persist.records, 1)
	rec := persist.records[0]
	assert.Equal(t, "A", rec.Sender)
	assert.Equal(t, "hello", rec.Text)
	assert.Equal(t, map[string]any{"action": "message_sent", "length": 5}, rec.Metadata)

	ep, _ := store.Endpoint("a")
	assert.Equal(t, int64(1), ep.MessageCount)
	require.NotNil(t, ep.LastSeen)
}

func TestDispatchSendMessageRejected(t *testing.T) {
	tests := []struct {
		name string
		cmd  protocol.SendMessage
		want protocol.SentFailure
	}{
		{
			name: "unknown endpoint",
			cmd:  protocol.SendMessage{Who: "x", Text: "hello"},
			want: protocol.SentFailure{Action: protocol.ActionSent, Who: "x", Error: "Unknown AI: x"},
		},
		{
			name: "empty text",
			cmd:  protocol.SendMessage{Who: "b", Text: ""},
			want: protocol.SentFailure{Action: protocol.ActionSent, Who: "b", Error: "Empty message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, persist, _ := newTestEngine(t, fastTiming())
			tr := &fakeTransport{}

			require.NoError(t, e.Dispatch(context.Background(), tr, tt.cmd))

			require.Len(t, tr.sent, 1)
			assert.Equal(t, tt.want, tr.sent[0])
			assert.Empty(t, persist.records)
		})
	}
}

func TestDispatchGetLatest(t *testing.T) {
	e, _, _, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.GetLatest{Who: "z"}))
	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.GetLatest{Who: "B"}))

	require.Len(t, tr.sent, 2)
	assert.Equal(t, protocol.NewLatestFailure("z", "Unknown AI: z"), tr.sent[0])
	assert.Equal(t, protocol.ScrapeRequest{
		Action:   protocol.ActionGetLatest,
		Location: "beta.example/app",
		Selector: "message-content",
		Who:      "b",
	}, tr.sent[1])
}

func TestDispatchEmergencyStatus(t *testing.T) {
	e, store, persist, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	cmd := protocol.EmergencyStatus{
		AIStatus: map[string]protocol.StatusInfo{"a": {Status: "Error"}},
		TabsFound: map[string]json.RawMessage{
			"a": json.RawMessage("false"),
			"b": json.RawMessage("true"),
		},
	}
	require.NoError(t, e.Dispatch(context.Background(), tr, cmd))

	a, _ := store.Endpoint("a")
	assert.Equal(t, domain.StatusError, a.Status)
	assert.Equal(t, int64(1), store.Stats().EmergenciesHandled)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, protocol.EmergencyRestore{
		Action:      protocol.ActionEmergencyRestore,
		MissingAIs:  []string{"Alpha"},
		RestoreURLs: map[string]string{"Alpha": "alpha.example/chat"},
	}, tr.sent[0])
	assert.Equal(t, 1, persist.statuses)
}

func TestDispatchEmergencyStatusNothingMissing(t *testing.T) {
	e, store, persist, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	cmd := protocol.EmergencyStatus{
		AIStatus: map[string]protocol.StatusInfo{
			"a": {Status: "active"},
			"b": {},
			"q": {Status: "Active"},
		},
		TabsFound: map[string]json.RawMessage{
			"a": json.RawMessage(`{"id":3}`),
			"b": json.RawMessage("true"),
			"q": json.RawMessage("false"),
		},
	}
	require.NoError(t, e.Dispatch(context.Background(), tr, cmd))

	a, _ := store.Endpoint("a")
	b, _ := store.Endpoint("b")
	assert.Equal(t, domain.StatusActive, a.Status)
	assert.Equal(t, domain.StatusDisconnected, b.Status)
	assert.Zero(t, store.Stats().EmergenciesHandled)
	assert.Empty(t, tr.sent)
	assert.Equal(t, 1, persist.statuses, "status snapshot is written unconditionally")
}

func TestDispatchHealthCheck(t *testing.T) {
	e, store, _, mock := newTestEngine(t, fastTiming())
	store.ConnectionOpened()
	store.SetStatus("b", domain.StatusActive)
	mock.Add(90 * time.Second)
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.HealthCheck{}))

	require.Len(t, tr.sent, 1)
	report, ok := tr.sent[0].(protocol.HealthReport)
	require.True(t, ok)
	assert.Equal(t, protocol.ActionHealthReport, report.Action)
	assert.Equal(t, "1m30s", report.Uptime)
	assert.Equal(t, 90.0, report.UptimeSeconds)
	assert.Equal(t, 1, report.ConnectedCount)
	assert.Equal(t, domain.StatusActive, report.EndpointStatuses["b"].Status)
	assert.Equal(t, protocol.SystemOperational, report.SystemStatus)
}

func TestDispatchEmergencyBackup(t *testing.T) {
	e, _, persist, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.EmergencyBackup{}))

	assert.Equal(t, 1, persist.backups)
	assert.Equal(t, []any{protocol.NewBackupComplete()}, tr.sent)
}

func TestDispatchHeartbeat(t *testing.T) {
	e, _, _, mock := newTestEngine(t, fastTiming())
	mock.Add(42 * time.Minute)
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.Heartbeat{}))

	assert.Equal(t, []any{protocol.NewHeartbeatAck(mock.Now())}, tr.sent)
}

func TestDispatchUnknownActionIsSilent(t *testing.T) {
	e, store, persist, _ := newTestEngine(t, fastTiming())
	before := store.StatusReport()
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.Unknown{Name: "self_destruct"}))

	assert.Empty(t, tr.sent)
	assert.Equal(t, before, store.StatusReport())
	assert.Zero(t, persist.appends)
}

func TestDispatchStrayReplyIsIgnored(t *testing.T) {
	e, _, _, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.Latest{Who: "a", Text: strPtr("late")}))
	assert.Empty(t, tr.sent)
}

func TestDispatchHandlerFault(t *testing.T) {
	e, _, _, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{sendErr: errors.New("write failed")}

	require.NoError(t, e.Dispatch(context.Background(), tr, protocol.HealthCheck{}))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, protocol.ErrorEnvelope{
		Action:  protocol.ActionError,
		Message: "write failed",
		Command: protocol.ActionHealthCheck,
	}, tr.sent[0])
}

func TestDispatchRecoversPanic(t *testing.T) {
	e, _, persist, _ := newTestEngine(t, fastTiming())
	persist.onBackup = func() { panic("snapshot exploded") }
	tr := &fakeTransport{}

	require.NotPanics(t, func() {
		require.NoError(t, e.Dispatch(context.Background(), tr, protocol.EmergencyBackup{}))
	})

	require.Len(t, tr.sent, 1)
	env, ok := tr.sent[0].(protocol.ErrorEnvelope)
	require.True(t, ok)
	assert.Equal(t, protocol.ActionEmergencyBackup, env.Command)
	assert.Contains(t, env.Message, "snapshot exploded")
}

func TestDispatchPropagatesClosedConnection(t *testing.T) {
	e, _, _, _ := newTestEngine(t, fastTiming())
	tr := &fakeTransport{sendErr: ErrConnClosed}

	err := e.Dispatch(context.Background(), tr, protocol.Heartbeat{})
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.Empty(t, tr.sent)
}
