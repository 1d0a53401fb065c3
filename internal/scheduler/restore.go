package scheduler

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/relaybridge/internal/logger"
	"github.com/MrSnakeDoc/relaybridge/internal/persistence"
	"github.com/MrSnakeDoc/relaybridge/internal/state"
)

// Restorer seeds the last-known text of each endpoint from the newest
// backup it can find, so a restart does not relay the same message again.
type Restorer struct {
	loaders []persistence.BackupLoader
	store   *state.Store
	logger  logger.Logger
}

// NewRestorer tries loaders in order; the first one holding a backup wins.
func NewRestorer(store *state.Store, log logger.Logger, loaders ...persistence.BackupLoader) *Restorer {
	return &Restorer{
		loaders: loaders,
		store:   store,
		logger:  log,
	}
}

// Restore returns how many endpoints were seeded. A missing backup is
// not an error.
func (r *Restorer) Restore(ctx context.Context) (int, error) {
	r.logger.Info("restoring last-known text from backup")

	b, source, err := persistence.LoadBackup(ctx, r.loaders...)
	if errors.Is(err, persistence.ErrNoBackup) {
		r.logger.Info("no backup found, starting fresh")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := r.store.RestoreLastText(b.LastMessages)
	r.logger.Info("restored from backup",
		logger.String("source", source),
		logger.Int("endpoints", n),
		logger.String("taken_at", b.Timestamp.Format("2006-01-02 15:04:05")),
	)
	return n, nil
}
