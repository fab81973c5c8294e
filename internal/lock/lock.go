// Package lock provides scoped mutual exclusion over an injectable backend.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// Locker acquires a named mutual-exclusion scope. The returned release
// function must be deferred so the scope is left on every exit path.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (release func(), err error)
}

// FileLocker is an advisory file lock acquired by polling until a wall-clock
// timeout. A stale lock left by a crashed process is not broken; only the
// acquisition timeout bounds the wait.
type FileLocker struct {
	path string
	poll time.Duration
}

func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path, poll: 100 * time.Millisecond}
}

// Acquire blocks until the lock is held or the timeout elapses.
func (l *FileLocker) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	fl := flock.New(l.path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, l.poll)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lock %s: timed out after %s", l.path, timeout)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}

// NopLocker satisfies Locker without any exclusion, for tests and
// single-writer deployments.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, time.Duration) (func(), error) {
	return func() {}, nil
}
