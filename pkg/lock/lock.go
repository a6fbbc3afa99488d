// Package lock provides the advisory process lock that keeps two
// update transactions from running against the same slot inventory at
// once.
package lock

import (
	"log/slog"

	"golang.org/x/sys/unix"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// DefaultPath is where the updater takes its advisory lock.
const DefaultPath = "/run/updater.lock"

// Lock is a held advisory file lock. Release must be called to drop it.
type Lock struct {
	fd   int
	path string
}

// Acquire takes an exclusive, non-blocking advisory lock at path. If
// another process already holds it, it returns a cerrors.AlreadyRunning
// error rather than blocking — a second update run should fail fast,
// not queue.
func Acquire(path string) (*Lock, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.Env, "opening lock file "+path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return nil, cerrors.New(cerrors.AlreadyRunning, "another update transaction holds "+path)
		}
		return nil, cerrors.Wrap(cerrors.Env, "locking "+path, err)
	}

	slog.Info("lock_acquired", "path", path)
	return &Lock{fd: fd, path: path}, nil
}

// Release drops the lock and closes the underlying file descriptor.
func (l *Lock) Release() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		unix.Close(l.fd)
		return cerrors.Wrap(cerrors.Env, "unlocking "+l.path, err)
	}
	if err := unix.Close(l.fd); err != nil {
		return cerrors.Wrap(cerrors.Env, "closing lock file "+l.path, err)
	}
	slog.Info("lock_released", "path", l.path)
	return nil
}
