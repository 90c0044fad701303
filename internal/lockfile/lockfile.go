// Package lockfile provides a sentinel-file lock and atomic file replacement
// for state shared between concurrent processes.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	lockSuffix   = ".lock"
	staleAfter   = 30 * time.Second
	pollInterval = 10 * time.Millisecond
	acquireLimit = 5 * time.Second
)

// WithLock runs fn while holding an exclusive lock for path. The lock is a
// sentinel file created with O_EXCL next to path; locks older than 30s are
// treated as stale leftovers from a crashed process and broken.
func WithLock(path string, fn func() error) error {
	lockPath := path + lockSuffix
	if err := acquire(lockPath); err != nil {
		return err
	}
	defer os.Remove(lockPath)
	return fn()
}

func acquire(lockPath string) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	deadline := time.Now().Add(acquireLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquire lock %s: timed out", lockPath)
		}
		time.Sleep(pollInterval)
	}
}

// WriteAtomic replaces the file at path with data via a temp file in the
// same directory followed by a rename.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// WriteAtomicLocked combines WithLock and WriteAtomic for the common case.
func WriteAtomicLocked(path string, data []byte, perm os.FileMode) error {
	return WithLock(path, func() error {
		return WriteAtomic(path, data, perm)
	})
}
