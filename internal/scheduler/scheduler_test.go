package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/persistence"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

type countingSnapshotter struct {
	mu       sync.Mutex
	backups  int
	statuses int
}

func (c *countingSnapshotter) Backup(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups++
}

func (c *countingSnapshotter) SaveStatus(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses++
}

func (c *countingSnapshotter) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backups, c.statuses
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSnapshotScheduler_PeriodicStatus(t *testing.T) {
	log := logger.New("error", false)
	mock := clock.NewMock()
	snap := &countingSnapshotter{}

	s := NewSnapshotScheduler(snap, log, mock, time.Minute, make(chan struct{}, 1))
	s.Start(context.Background())
	defer s.Stop()

	// Ticker is registered synchronously in Start.
	mock.Add(time.Minute)
	waitFor(t, func() bool { _, st := snap.counts(); return st == 1 })

	mock.Add(time.Minute)
	waitFor(t, func() bool { _, st := snap.counts(); return st == 2 })

	if b, _ := snap.counts(); b != 0 {
		t.Fatalf("expected no backups, got %d", b)
	}
}

func TestSnapshotScheduler_ManualBackup(t *testing.T) {
	log := logger.New("error", false)
	trigger := make(chan struct{}, 1)
	snap := &countingSnapshotter{}

	s := NewSnapshotScheduler(snap, log, clock.NewMock(), 0, trigger)
	s.Start(context.Background())

	trigger <- struct{}{}
	waitFor(t, func() bool { b, _ := snap.counts(); return b == 1 })

	s.Stop()
	s.Stop() // idempotent
}

type staticLoader struct {
	name string
	b    *domain.Backup
	err  error
}

func (l staticLoader) Name() string { return l.name }

func (l staticLoader) LoadBackup(context.Context) (*domain.Backup, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.b == nil {
		return nil, persistence.ErrNoBackup
	}
	return l.b, nil
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.New([]domain.Descriptor{
		{ID: "a", Name: "Alpha", Location: "alpha.example", ScrapeSelectors: []string{"p"}, InputSelectors: []string{"textarea"}},
		{ID: "b", Name: "Beta", Location: "beta.example", ScrapeSelectors: []string{"p"}, InputSelectors: []string{"textarea"}},
	}, nil)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return store
}

func TestRestorer_Restore(t *testing.T) {
	text := "last words"
	tests := []struct {
		name     string
		loaders  []persistence.BackupLoader
		want     int
		wantErr  bool
		wantText bool
	}{
		{
			name:    "no backup anywhere",
			loaders: []persistence.BackupLoader{staticLoader{name: "file"}},
			want:    0,
		},
		{
			name: "falls back to second loader",
			loaders: []persistence.BackupLoader{
				staticLoader{name: "file"},
				staticLoader{name: "redis", b: &domain.Backup{LastMessages: map[string]*string{"a": &text, "b": nil, "zz": &text}}},
			},
			want:     1,
			wantText: true,
		},
		{
			name:    "unreadable backup",
			loaders: []persistence.BackupLoader{staticLoader{name: "file", err: errors.New("corrupt")}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			r := NewRestorer(store, logger.New("error", false), tt.loaders...)

			n, err := r.Restore(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if n != tt.want {
				t.Errorf("restored %d, want %d", n, tt.want)
			}
			got, ok := store.LastText("a")
			if ok != tt.wantText || (ok && got != text) {
				t.Errorf("LastText(a) = %q, %v", got, ok)
			}
			if st := store.Stats(); st.MessagesRelayed != 0 {
				t.Errorf("counters must not be restored, relayed=%d", st.MessagesRelayed)
			}
		})
	}
}
