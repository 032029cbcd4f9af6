package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// EngramLock provides cross-process exclusive locking on an engram path
// using gofrs/flock, so CLI invocations and a running daemon never write
// the same `<name>.engram` concurrently. The lock file sits alongside the
// engram as `<name>.engram.lock` and outlives the engram itself; its
// presence carries no meaning between processes, only its flock state
// does.
type EngramLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewEngramLock creates a lock for the given engram path. engramPath is
// the path to the `.engram` file itself; the lock file is derived by
// appending ".lock".
func NewEngramLock(engramPath string) *EngramLock {
	lockPath := engramPath + ".lock"
	return &EngramLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *EngramLock) Lock() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire engram lock: %w", err)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. Returns false,
// nil if another process already holds it.
func (l *EngramLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire engram lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked or already-
// released EngramLock, so callers can defer it unconditionally right
// after a successful Lock, even in a panic-recovery path.
func (l *EngramLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release engram lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *EngramLock) Path() string {
	return l.path
}

// IsLocked reports whether this handle currently holds the lock.
func (l *EngramLock) IsLocked() bool {
	return l.locked
}
