package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/persistence"
)

const (
	// DefaultJournalMaxLen caps the mirrored journal stream (approximate trim)
	DefaultJournalMaxLen = 10000
	// DefaultSnapshotTTL keeps snapshot documents around after the relay stops
	DefaultSnapshotTTL = 7 * 24 * time.Hour
)

// Store mirrors the journal and snapshots into Redis. It is a secondary
// copy: the file sink stays authoritative.
type Store struct {
	client        *redis.Client
	journalMaxLen int64
	snapshotTTL   time.Duration
}

// NewStore creates a new Redis mirror
func NewStore(client *redis.Client) *Store {
	return &Store{
		client:        client,
		journalMaxLen: DefaultJournalMaxLen,
		snapshotTTL:   DefaultSnapshotTTL,
	}
}

func (s *Store) Name() string { return "redis" }

// AppendMessage adds the record to the journal stream and bumps the
// endpoint's counters in one transaction.
func (s *Store) AppendMessage(ctx context.Context, rec domain.MessageRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: JournalKey(),
			MaxLen: s.journalMaxLen,
			Approx: true,
			Values: map[string]any{
				"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
				"endpoint":  rec.EndpointID,
				"sender":    rec.Sender,
				"text":      rec.Text,
				"metadata":  string(meta),
			},
		})
		if rec.EndpointID != "" {
			key := EndpointKey(rec.EndpointID)
			p.HIncrBy(ctx, key, "messages", 1)
			p.HSet(ctx, key, "last_seen", rec.Timestamp.Unix())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror message: %w", err)
	}
	return nil
}

func (s *Store) WriteBackup(ctx context.Context, b domain.Backup) error {
	return s.setJSON(ctx, BackupKey(), b)
}

func (s *Store) WriteStatus(ctx context.Context, r domain.StatusReport) error {
	return s.setJSON(ctx, StatusKey(), r)
}

// LoadBackup returns persistence.ErrNoBackup when no snapshot is stored.
func (s *Store) LoadBackup(ctx context.Context) (*domain.Backup, error) {
	data, err := s.client.Get(ctx, BackupKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.ErrNoBackup
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}

	var b domain.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup: %w", err)
	}
	return &b, nil
}

// EndpointCounters returns the mirrored message count per endpoint.
func (s *Store) EndpointCounters(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		v, err := s.client.HGet(ctx, EndpointKey(id), "messages").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				out[id] = 0
				continue
			}
			return nil, fmt.Errorf("failed to get counter for %s: %w", id, err)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter for %s: %w", id, err)
		}
		out[id] = n
	}
	return out, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
