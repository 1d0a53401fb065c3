package persistence

import (
	"context"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
)

// Sink is one place the relay persists to. The file sink is the durable
// primary; a Redis mirror can be attached as a best-effort secondary.
type Sink interface {
	Name() string
	AppendMessage(ctx context.Context, rec domain.MessageRecord) error
	WriteBackup(ctx context.Context, b domain.Backup) error
	WriteStatus(ctx context.Context, r domain.StatusReport) error
}

// BackupLoader reads back the last full snapshot a sink wrote.
type BackupLoader interface {
	Name() string
	LoadBackup(ctx context.Context) (*domain.Backup, error)
}
