package action

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLockUnavailable is returned when the global lock is held by a live
// process and cannot be reclaimed.
var ErrLockUnavailable = errors.New("action: lock unavailable")

// Lock is the single .pt-lock file per data directory, acquired with
// O_EXCL so only one executor runs at a time. A lock file whose recorded
// PID no longer exists is considered stale and may be reclaimed.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates path with O_EXCL. If the file already exists, it
// checks whether the PID recorded inside it is still alive via
// kill(pid, 0); if the holder is gone (or the check is inconclusive in a
// way that favours availability) the stale lock file is removed and
// acquisition is retried exactly once.
func AcquireLock(path string) (*Lock, error) {
	l, err := tryAcquire(path)
	if err == nil {
		return l, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("action: open lock %q: %w", path, err)
	}

	if !isStaleLock(path) {
		return nil, ErrLockUnavailable
	}
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, ErrLockUnavailable
	}

	l, err = tryAcquire(path)
	if err != nil {
		return nil, ErrLockUnavailable
	}
	return l, nil
}

func tryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("action: write lock pid: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

// isStaleLock reads the PID recorded in an existing lock file and probes
// its liveness with kill(pid, 0):
//   - ESRCH: no such process, the lock is stale.
//   - EPERM: the process exists but we lack permission to signal it, so it
//     is alive; the lock is held.
//   - any other outcome (including success, meaning the PID is alive and
//     ours to signal) is treated conservatively as "not stale".
func isStaleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true // Unreadable/garbage PID: treat the lock as abandoned.
	}

	err = unix.Kill(pid, 0)
	switch {
	case err == nil:
		return false
	case errors.Is(err, unix.ESRCH):
		return true
	case errors.Is(err, unix.EPERM):
		return false
	default:
		return true
	}
}

// Release removes the lock file. Safe to call once; idempotent on a
// missing file.
func (l *Lock) Release() error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("action: release lock %q: %w", l.path, err)
	}
	return nil
}
