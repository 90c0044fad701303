package tools

import (
	"path/filepath"
	"strings"
	"sync"
)

// writeGrants is the process-wide set of directories the user has granted
// file-editing tools write access to. Project grants for file editors are
// directory-scoped rather than persisted keys; the set resets on exit.
type writeGrants struct {
	mu   sync.RWMutex
	dirs []string
}

var grants writeGrants

// GrantWriteDir records a directory-scoped write grant.
func GrantWriteDir(dir string) {
	clean := filepath.Clean(dir)
	grants.mu.Lock()
	defer grants.mu.Unlock()
	for _, d := range grants.dirs {
		if d == clean {
			return
		}
	}
	grants.dirs = append(grants.dirs, clean)
}

// WriteGranted reports whether path falls under a granted directory.
func WriteGranted(path string) bool {
	clean := filepath.Clean(path)
	grants.mu.RLock()
	defer grants.mu.RUnlock()
	for _, dir := range grants.dirs {
		if clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ResetWriteGrants clears all grants. Used in tests.
func ResetWriteGrants() {
	grants.mu.Lock()
	defer grants.mu.Unlock()
	grants.dirs = nil
}
