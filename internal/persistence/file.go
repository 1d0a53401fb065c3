package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
	"github.com/MrSnakeDoc/relaybridge/internal/utils"
)

const journalTimeFormat = "2006-01-02 15:04:05"

// FileSink writes the journal as an append-only text log and the two
// snapshots as JSON documents replaced atomically (temp file + rename),
// so a reader never sees a half-written snapshot.
type FileSink struct {
	journalPath string
	backupPath  string
	statusPath  string

	journalMu sync.Mutex
}

// NewFileSink creates the parent directories of every path.
func NewFileSink(journalPath, backupPath, statusPath string) (*FileSink, error) {
	for _, p := range []string{journalPath, backupPath, statusPath} {
		if p == "" {
			return nil, fmt.Errorf("file sink: empty path")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("file sink: create directory for %s: %w", p, err)
		}
	}
	return &FileSink{
		journalPath: journalPath,
		backupPath:  backupPath,
		statusPath:  statusPath,
	}, nil
}

func (f *FileSink) Name() string { return "file" }

// AppendMessage writes one block and fsyncs before returning.
func (f *FileSink) AppendMessage(_ context.Context, rec domain.MessageRecord) error {
	f.journalMu.Lock()
	defer f.journalMu.Unlock()

	file, err := os.OpenFile(f.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer utils.Close(file)

	block := fmt.Sprintf("[%s] %s:\n%s\n\n", rec.Timestamp.Format(journalTimeFormat), rec.Sender, rec.Text)
	if _, err := file.WriteString(block); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

func (f *FileSink) WriteBackup(_ context.Context, b domain.Backup) error {
	return writeJSONAtomic(f.backupPath, b)
}

func (f *FileSink) WriteStatus(_ context.Context, r domain.StatusReport) error {
	return writeJSONAtomic(f.statusPath, r)
}

// LoadBackup returns ErrNoBackup when no backup was written yet.
func (f *FileSink) LoadBackup(_ context.Context) (*domain.Backup, error) {
	data, err := os.ReadFile(f.backupPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	var b domain.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse backup %s: %w", f.backupPath, err)
	}
	return &b, nil
}

func writeJSONAtomic(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		utils.Close(tmp)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		utils.Close(tmp)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	return nil
}
