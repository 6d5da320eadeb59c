// Package lock serialises mutating pyvm commands across processes with an
// advisory lock on a file under the pyvm root.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"pyvm/internal/errkind"
)

const retryDelay = 100 * time.Millisecond

// Options bound how long Acquire waits. FailFast makes a single attempt.
type Options struct {
	Timeout  time.Duration
	FailFast bool
}

// Locker acquires the machine-scoped lock.
type Locker struct {
	path string
	opts Options
}

// New returns a locker over path.
func New(path string, opts Options) *Locker {
	return &Locker{path: path, opts: opts}
}

// Acquire blocks until the lock is held, the timeout passes or ctx ends. The
// returned release func must be called on every exit path; the OS also drops
// the lock if the process dies.
func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, errkind.Classify("prepare lock dir", err)
	}

	fl := flock.New(l.path)
	locked, err := l.try(ctx, fl)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another pyvm process", errkind.ErrLockContention, l.path)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (l *Locker) try(ctx context.Context, fl *flock.Flock) (bool, error) {
	if l.opts.FailFast || l.opts.Timeout <= 0 {
		locked, err := fl.TryLock()
		if err != nil {
			return false, errkind.Classify("acquire lock", err)
		}
		return locked, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	locked, err := fl.TryLockContext(waitCtx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return locked, nil
}
