package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/metrics"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

// Persister fans writes out to the primary sink and any mirrors.
// Journal failures on the primary are returned to the caller; snapshot
// failures are logged and counted but never propagated, the relay keeps
// running without its last snapshot.
type Persister struct {
	primary Sink
	mirrors []Sink
	store   *state.Store
	log     logger.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	// serializes snapshot writes so a slower writer never replaces a newer file
	snapMu sync.Mutex
}

type Option func(*Persister)

func WithMirror(s Sink) Option {
	return func(p *Persister) {
		if s != nil {
			p.mirrors = append(p.mirrors, s)
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Persister) { p.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Persister) { p.metrics = m }
}

func New(primary Sink, store *state.Store, log logger.Logger, opts ...Option) *Persister {
	p := &Persister{
		primary: primary,
		store:   store,
		log:     log,
		clock:   clock.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AppendMessage journals one record. The write is not cancelled with
// ctx: a message that was detected must reach the journal.
func (p *Persister) AppendMessage(ctx context.Context, rec domain.MessageRecord) error {
	ctx = context.WithoutCancel(ctx)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = p.clock.Now()
	}

	if err := p.primary.AppendMessage(ctx, rec); err != nil {
		p.metrics.SnapshotFailed("journal")
		return fmt.Errorf("journal %s: %w", p.primary.Name(), err)
	}

	if err := p.fanOut(func(s Sink) error { return s.AppendMessage(ctx, rec) }); err != nil {
		p.log.Warn("journal mirror failed", logger.Error(err))
	}
	return nil
}

// Backup writes a full snapshot. The snapshot carries its own time as
// last_backup; the store only records it once the primary write landed.
func (p *Persister) Backup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	p.snapMu.Lock()
	defer p.snapMu.Unlock()

	b := p.store.Backup()
	at := b.Timestamp
	b.Stats.LastBackup = &at

	if err := p.primary.WriteBackup(ctx, b); err != nil {
		p.metrics.SnapshotFailed("backup")
		p.log.Error("backup failed",
			logger.String("sink", p.primary.Name()),
			logger.Error(err),
		)
		return
	}
	p.store.MarkBackup(at)

	if err := p.fanOut(func(s Sink) error { return s.WriteBackup(ctx, b) }); err != nil {
		p.log.Warn("backup mirror failed", logger.Error(err))
	}
	p.log.Debug("backup written", logger.Int64("relayed", b.Stats.MessagesRelayed))
}

// SaveStatus writes the lightweight status snapshot.
func (p *Persister) SaveStatus(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	p.snapMu.Lock()
	defer p.snapMu.Unlock()

	r := p.store.StatusReport()
	if err := p.primary.WriteStatus(ctx, r); err != nil {
		p.metrics.SnapshotFailed("status")
		p.log.Error("status snapshot failed",
			logger.String("sink", p.primary.Name()),
			logger.Error(err),
		)
		return
	}

	if err := p.fanOut(func(s Sink) error { return s.WriteStatus(ctx, r) }); err != nil {
		p.log.Warn("status mirror failed", logger.Error(err))
	}
}

// LoadBackup tries each loader in order and returns the first snapshot
// found. A loader that has nothing is skipped silently.
func LoadBackup(ctx context.Context, loaders ...BackupLoader) (*domain.Backup, string, error) {
	var errs error
	for _, l := range loaders {
		if l == nil {
			continue
		}
		b, err := l.LoadBackup(ctx)
		if err == nil && b != nil {
			return b, l.Name(), nil
		}
		if err != nil && !errors.Is(err, ErrNoBackup) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	if errs != nil {
		return nil, "", errs
	}
	return nil, "", ErrNoBackup
}

// ErrNoBackup is returned when no loader holds a snapshot.
var ErrNoBackup = errors.New("no backup available")

func (p *Persister) fanOut(write func(Sink) error) error {
	var errs error
	for _, m := range p.mirrors {
		if err := write(m); err != nil {
			p.metrics.SnapshotFailed("mirror")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errs
}
