// Package flock implements lock.Locker over a lock file, excluding both
// goroutines in this process and other burrow invocations against the same
// root dir.
package flock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/burrow/lock"
)

// pollInterval paces flock retries while another process holds the file.
const pollInterval = 50 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock layers two exclusion domains over one lock file: goroutines contend
// on a single-slot semaphore, processes contend on flock(2). The semaphore
// is a channel so both acquisition paths stay context-aware without a
// syscall; the flock fd is opened fresh per acquisition so callers blocked
// on the semaphore never inherit a stale fd.
type Lock struct {
	path string
	sem  chan struct{}
	held *flock.Flock // non-nil while held
}

// New creates a Lock backed by path. The parent directory is created if
// missing; lock files live under the run dir, which does not exist before
// the first boot.
func New(path string) *Lock {
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	return &Lock{path: path, sem: make(chan struct{}, 1)}
}

// Lock blocks until both domains are acquired or ctx is cancelled.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", l.path, ctx.Err())
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, pollInterval)
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		<-l.sem
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.held = fl
	return nil
}

// TryLock attempts a non-blocking acquisition of both domains.
// Returns (false, nil) when either is already held.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		<-l.sem
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	if !ok {
		<-l.sem
		return false, nil
	}
	l.held = fl
	return true, nil
}

// Unlock releases both domains. Safe to call on a Lock that is not held.
func (l *Lock) Unlock(_ context.Context) error {
	var err error
	if l.held != nil {
		err = l.held.Unlock()
		l.held = nil
	}
	select {
	case <-l.sem:
	default:
	}
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}
