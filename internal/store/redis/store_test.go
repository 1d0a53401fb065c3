package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/persistence"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "relay:endpoint:a", EndpointKey("a"))

	id, err := ExtractEndpointID("relay:endpoint:gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", id)

	for _, bad := range []string{"relay:endpoint:", "relay:backup", ""} {
		_, err := ExtractEndpointID(bad)
		assert.Error(t, err, bad)
	}
}

// newTestStore needs a disposable Redis; set RELAY_TEST_REDIS_ADDR to run.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return NewStore(client)
}

func TestStoreMirror(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadBackup(ctx)
	assert.ErrorIs(t, err, persistence.ErrNoBackup)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.MessageRecord{Timestamp: now, EndpointID: "a", Sender: "Alpha", Text: "hi", Metadata: map[string]any{"length": 2}}
	require.NoError(t, s.AppendMessage(ctx, rec))
	require.NoError(t, s.AppendMessage(ctx, rec))

	n, err := s.client.XLen(ctx, JournalKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counters, err := s.EndpointCounters(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 2, "b": 0}, counters)

	text := "kept"
	require.NoError(t, s.WriteBackup(ctx, domain.Backup{Timestamp: now, LastMessages: map[string]*string{"a": &text}}))
	b, err := s.LoadBackup(ctx)
	require.NoError(t, err)
	require.NotNil(t, b.LastMessages["a"])
	assert.Equal(t, "kept", *b.LastMessages["a"])

	require.NoError(t, s.WriteStatus(ctx, domain.StatusReport{Timestamp: now, Running: true}))
	ttl, err := s.client.TTL(ctx, StatusKey()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
