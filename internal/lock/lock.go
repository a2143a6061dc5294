// Package lock guards a data directory against concurrent writers.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// FileName is the lock file created inside the data directory.
const FileName = ".notegraph.lock"

// DataDirLock is an exclusive cross-process lock on a data directory.
// A DataDirLock is not safe for concurrent use.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New returns an unlocked lock for dir.
func New(dir string) *DataDirLock {
	path := filepath.Join(dir, FileName)
	return &DataDirLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. It returns a Locked error when
// another process holds it.
func (l *DataDirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return ngerrors.StorageError("failed to create data directory", err).
			WithDetail("path", filepath.Dir(l.path))
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return ngerrors.StorageError("failed to acquire lock", err).WithDetail("path", l.path)
	}
	if !ok {
		return ngerrors.New(ngerrors.ErrCodeLocked,
			fmt.Sprintf("data directory %s is in use by another process", filepath.Dir(l.path)), nil).
			WithDetail("lock_file", l.path).
			WithSuggestion("Stop the other notegraph process or use a different --data-dir")
	}
	l.locked = true
	return nil
}

// Release drops the lock. Releasing an unlocked lock is a no-op.
func (l *DataDirLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string { return l.path }

// Held reports whether this process holds the lock.
func (l *DataDirLock) Held() bool { return l.locked }
