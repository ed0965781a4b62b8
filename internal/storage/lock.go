package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when a lock is not acquired in time.
var ErrLockTimeout = errors.New("lock timeout")

// FileLock provides file-based locking for concurrent access.
// Uses flock(2) for cross-process advisory locking.
type FileLock struct {
	file *os.File
	path string
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created if it doesn't exist.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	return f, nil
}

// Lock acquires an exclusive lock, blocking until available.
func (l *FileLock) Lock() error {
	f, err := l.open()
	if err != nil {
		return err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()

		return fmt.Errorf("acquire lock: %w", err)
	}

	l.file = f

	return nil
}

// TryLock attempts to acquire an exclusive lock without blocking.
// Returns false if the lock is held by another process.
func (l *FileLock) TryLock() (bool, error) {
	f, err := l.open()
	if err != nil {
		return false, err
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}

		return false, fmt.Errorf("try lock: %w", err)
	}

	l.file = f

	return true, nil
}

// LockContext polls for the lock until it is acquired, the timeout passes
// or ctx is cancelled. A zero timeout waits as long as ctx allows.
func (l *FileLock) LockContext(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	interval := 50 * time.Millisecond
	for {
		acquired, err := l.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %v: %s", ErrLockTimeout, timeout, l.path)
			}

			return ctx.Err()
		case <-time.After(interval):
		}

		if interval < 500*time.Millisecond {
			interval *= 2
		}
	}
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	l.file = nil

	return nil
}

// WithLock executes fn while holding an exclusive lock on lockPath.
func WithLock(ctx context.Context, lockPath string, timeout time.Duration, fn func() error) error {
	lock := NewFileLock(lockPath)
	if err := lock.LockContext(ctx, timeout); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}
