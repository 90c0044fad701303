package permission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/magpie-ai/magpie/internal/lockfile"
	"github.com/magpie-ai/magpie/internal/observability"
)

// Allowlist is the per-project persistent permission key store: a JSON array
// of keys, sorted and unique, written atomically under a file lock. External
// edits are picked up through fsnotify.
type Allowlist struct {
	mu      sync.RWMutex
	path    string
	keys    map[string]struct{}
	watcher *fsnotify.Watcher
	logger  *observability.Logger
}

// OpenAllowlist loads the store at path and starts watching it for external
// changes. A missing file is an empty store. An empty path disables
// persistence; Contains always reports false and Add is a no-op.
func OpenAllowlist(path string, logger *observability.Logger) (*Allowlist, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	a := &Allowlist{path: path, keys: make(map[string]struct{}), logger: logger}
	if path == "" {
		return a, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := a.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Watching is best-effort; the store still works without it.
		logger.Debug(context.Background(), "allowlist watcher unavailable", "error", err)
		return a, nil
	}
	a.watcher = watcher
	// Watch the directory: editors replace files, which drops file watches.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logger.Debug(context.Background(), "allowlist watch failed", "error", err)
		_ = watcher.Close()
		a.watcher = nil
		return a, nil
	}
	go a.watch()
	return a, nil
}

func (a *Allowlist) watch() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Name != a.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if err := a.reload(); err != nil {
					a.logger.Debug(context.Background(), "allowlist reload failed", "error", err)
				}
			}
		case _, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (a *Allowlist) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.mu.Lock()
			a.keys = make(map[string]struct{})
			a.mu.Unlock()
			return nil
		}
		return err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	a.mu.Lock()
	a.keys = set
	a.mu.Unlock()
	return nil
}

// Contains reports whether key is present.
func (a *Allowlist) Contains(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[key]
	return ok
}

// Keys returns all keys, sorted.
func (a *Allowlist) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.keys))
	for k := range a.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Add persists key via a read, append-unique-sort, atomic-write cycle under
// the file lock, so concurrent processes never lose each other's grants.
func (a *Allowlist) Add(key string) error {
	if a.path == "" {
		return nil
	}
	err := lockfile.WithLock(a.path, func() error {
		current := []string{}
		if data, err := os.ReadFile(a.path); err == nil {
			if err := json.Unmarshal(data, &current); err != nil {
				current = nil
			}
		}
		for _, k := range current {
			if k == key {
				return nil
			}
		}
		current = append(current, key)
		sort.Strings(current)
		data, err := json.MarshalIndent(current, "", "  ")
		if err != nil {
			return err
		}
		return lockfile.WriteAtomic(a.path, data, 0o644)
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.keys[key] = struct{}{}
	a.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (a *Allowlist) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}

// SessionGrants is the process-wide in-memory permission key set. It resets
// on process exit.
type SessionGrants struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewSessionGrants creates an empty session set.
func NewSessionGrants() *SessionGrants {
	return &SessionGrants{keys: make(map[string]struct{})}
}

// Add records a session grant.
func (s *SessionGrants) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

// Contains reports whether key was granted this session.
func (s *SessionGrants) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}
