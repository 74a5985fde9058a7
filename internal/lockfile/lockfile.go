// Package lockfile guards a data directory against concurrent writers
// from other processes with an advisory file lock.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockName is the lock file kept in each data directory.
const LockName = "tumblr.lock"

// ErrLockHeld means another process holds the data-directory lock. The
// caller should retry later; a one-shot invocation treats it as fatal.
var ErrLockHeld = errors.New("data directory is locked by another process")

// Lock is a held advisory lock on a data directory.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the data directory's lock without blocking. A held lock
// elsewhere yields ErrLockHeld.
func Acquire(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	fl := flock.New(filepath.Join(dataDir, LockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", fl.Path(), ErrLockHeld)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call unconditionally in a defer.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
