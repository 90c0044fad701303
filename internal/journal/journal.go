// Package journal appends runtime events as JSON Lines with size-based
// rotation. Write failures never disturb the main loop; they are logged at
// debug and swallowed.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magpie-ai/magpie/internal/lockfile"
	"github.com/magpie-ai/magpie/internal/observability"
)

// DefaultMaxSize is the rotation threshold.
const DefaultMaxSize = 4 << 20 // 4 MiB

// Event is one journal entry.
type Event struct {
	Time    time.Time      `json:"time"`
	Kind    string         `json:"kind"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Journal appends events to a JSON-Lines file under a file lock.
type Journal struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	logger  *observability.Logger
}

// New creates a journal writing to path. An empty path disables the journal.
func New(path string, logger *observability.Logger) *Journal {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Journal{path: path, maxSize: DefaultMaxSize, logger: logger}
}

// Append writes one event. Errors are swallowed.
func (j *Journal) Append(kind, message string, fields map[string]any) {
	if j == nil || j.path == "" {
		return
	}
	event := Event{Time: time.Now().UTC(), Kind: kind, Message: message, Fields: fields}
	line, err := json.Marshal(event)
	if err != nil {
		j.logger.Debug(context.Background(), "journal encode failed", "error", err)
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := lockfile.WithLock(j.path, func() error {
		if err := j.rotateIfNeeded(); err != nil {
			return err
		}
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(line)
		return err
	}); err != nil {
		j.logger.Debug(context.Background(), "journal write failed", "error", err)
	}
}

// rotateIfNeeded renames the journal aside once it exceeds the threshold.
// Caller holds the file lock.
func (j *Journal) rotateIfNeeded() error {
	info, err := os.Stat(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(filepath.Dir(j.path), 0o755)
		}
		return err
	}
	if info.Size() < j.maxSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", j.path, time.Now().UTC().Format("20060102T150405"))
	return os.Rename(j.path, rotated)
}
