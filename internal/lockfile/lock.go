// Package lockfile provides the single-writer file lock backing the
// timeline's shared-append-only log (spec.md §5: "guarded by a single
// writer lock; readers never block writers"). On Unix the lock is an OS
// file lock (flock), which the OS releases when the holding process exits,
// including after a crash; other platforms take no OS lock. There is no
// separate stale-lock check.
package lockfile

import (
	"errors"
	"os"
)

// ErrLocked is returned when a lock cannot be acquired because another
// live process holds it.
var ErrLocked = errors.New("lockfile: already held by another process")

// IsLocked reports whether err indicates contention with another process,
// as opposed to an I/O failure opening the lock file.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// Lock represents an acquired exclusive lock on a path. Callers must call
// Unlock to release it; the lock is also released if the process exits.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes a non-blocking exclusive lock on path, creating the lock
// file if necessary. It returns ErrLocked if another live process holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if isWouldBlock(err) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := flockUnlock(l.file); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
