package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/protocol"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

func testPair() []domain.Descriptor {
	return []domain.Descriptor{
		{ID: "a", Name: "Alpha", Location: "alpha.example/chat", ScrapeSelectors: []string{"div.msg", "div.answer"}, InputSelectors: []string{"textarea"}},
		{ID: "b", Name: "Beta", Location: "beta.example/app", ScrapeSelectors: []string{"message-content"}, InputSelectors: []string{"rich-textarea", "div[contenteditable]"}},
	}
}

// fastTiming keeps the thresholds but removes every delay.
func fastTiming() Timing {
	t := DefaultTiming()
	t.EndpointGap = 0
	t.CyclePause = 0
	t.ErrorBackoff = 0
	return t
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []any
	requests []any
	respond  func(req any) (protocol.Command, error)
	sendErr  error
}

func (f *fakeTransport) Send(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Request(_ context.Context, v any, _ time.Duration) (protocol.Command, error) {
	f.mu.Lock()
	f.requests = append(f.requests, v)
	respond := f.respond
	f.mu.Unlock()
	return respond(v)
}

func (f *fakeTransport) injections() []protocol.InjectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.InjectRequest
	for _, r := range f.requests {
		if ir, ok := r.(protocol.InjectRequest); ok {
			out = append(out, ir)
		}
	}
	return out
}

type fakePersistence struct {
	mu        sync.Mutex
	records   []domain.MessageRecord
	appends   int
	appendErr func(n int) error
	backups   int
	statuses  int
	onBackup  func()
}

func (f *fakePersistence) AppendMessage(_ context.Context, rec domain.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.appendErr != nil {
		if err := f.appendErr(f.appends); err != nil {
			return err
		}
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakePersistence) Backup(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onBackup != nil {
		f.onBackup()
	}
	f.backups++
}

func (f *fakePersistence) SaveStatus(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
}

func newTestEngine(t *testing.T, timing Timing) (*Engine, *state.Store, *fakePersistence, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	store, err := state.New(testPair(), mock)
	require.NoError(t, err)
	persist := &fakePersistence{}
	e := New(store, persist, logger.Nop(), WithClock(mock), WithTiming(timing))
	return e, store, persist, mock
}

func strPtr(s string) *string { return &s }
