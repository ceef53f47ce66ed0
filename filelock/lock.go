// Package filelock provides an advisory exclusive lock bound to a
// lock-file path, scoped so that it is always released on exit.
package filelock

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// FileLock is an advisory exclusive lock on a file path.
//
// It is process-scoped, not thread-scoped: goroutines inside one process
// wanting mutual exclusion on the same path must serialize externally, the
// same way flock(2) itself only arbitrates between distinct open file
// descriptions.
type FileLock struct {
	path string
	f    *os.File
}

// New returns a FileLock bound to path. The lock file is created lazily on
// the first Acquire/TryAcquire.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock-file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire blocks until the exclusive lock is held. Acquiring a lock that
// this object already holds is a no-op.
func (l *FileLock) Acquire() error {
	if l.f != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "filelock: open")
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return os.NewSyscallError("flock", err)
	}

	l.f = f
	return nil
}

// TryAcquire attempts to acquire the lock without blocking. It returns
// false, nil if another holder currently owns the lock.
func (l *FileLock) TryAcquire() (bool, error) {
	if l.f != nil {
		return true, nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return false, errors.Wrap(err, "filelock: open")
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	switch {
	case err == nil:
		l.f = f
		return true, nil
	case errors.Is(err, syscall.EWOULDBLOCK):
		f.Close()
		return false, nil
	default:
		f.Close()
		return false, os.NewSyscallError("flock", err)
	}
}

// Release drops the lock, if held. Releasing a lock that is not held is a
// no-op.
func (l *FileLock) Release() error {
	if l.f == nil {
		return nil
	}

	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil

	if err != nil {
		return os.NewSyscallError("flock", err)
	}
	return closeErr
}

// WithLock acquires the lock, runs fn, and releases the lock on every exit
// path, including a panic inside fn.
func WithLock(path string, fn func() error) (err error) {
	l := New(path)
	if err := l.Acquire(); err != nil {
		return err
	}
	defer func() {
		if relErr := l.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}
