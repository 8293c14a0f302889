// Package translog appends completed agent interactions to date-stamped
// JSONL files. Writes are best-effort: a failed write is reported through
// slog and never surfaces to the response path.
package translog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// lockRetryDelay is the poll interval while waiting for the file lock
	// held by a concurrent writer (another faqgent process).
	lockRetryDelay = 50 * time.Millisecond
)

// Record is one completed agent run.
type Record struct {
	ID        uuid.UUID     `json:"id"`
	Agent     string        `json:"agent"`
	Model     string        `json:"model"`
	Corpus    string        `json:"corpus"`
	Messages  []*ai.Message `json:"messages"`
	Timestamp time.Time     `json:"timestamp"`
}

// Logger appends Records to interactions-YYYY-MM-DD.jsonl under dir.
// A nil *Logger is valid and discards all records.
type Logger struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Logger writing under dir. The directory is created lazily
// on first write.
func New(dir string, logger *slog.Logger) *Logger {
	return &Logger{dir: dir, logger: logger, now: time.Now}
}

// Log appends rec as one JSON line. A zero Timestamp is filled in with the
// current time. Failures are logged and swallowed.
func (l *Logger) Log(ctx context.Context, rec Record) {
	if l == nil {
		return
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if err := l.append(ctx, rec); err != nil {
		l.logger.Warn("writing interaction log", "error", err, "dir", l.dir)
	}
}

// Path returns the log file path for the given day.
func (l *Logger) Path(ts time.Time) string {
	return filepath.Join(l.dir, "interactions-"+ts.Format("2006-01-02")+".jsonl")
}

func (l *Logger) append(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(l.dir, dirPerm); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	path := l.Path(rec.Timestamp)

	// The lock lives in a sidecar file so readers can tail the JSONL file
	// without contending on it.
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	if !locked {
		return errors.New("file lock not acquired")
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			l.logger.Warn("releasing file lock", "error", unlockErr)
		}
	}()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding record: %w", err)
	}
	return f.Close()
}
