// Package json persists a snapshot structure as a JSON file guarded by a
// flock, so concurrent burrow invocations against the same root dir cannot
// interleave read-modify-write cycles on the guest index.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/projecteru2/burrow/lock"
	"github.com/projecteru2/burrow/lock/flock"
	"github.com/projecteru2/burrow/storage"
	"github.com/projecteru2/burrow/utils"
)

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// Store is the flock-backed JSON implementation of storage.Store.
// A Store holds one lock.Locker for its lifetime, so goroutines sharing the
// Store serialize in-process before touching the file.
type Store[T any] struct {
	lock lock.Locker
	path string
}

// New creates a Store persisting to filePath, guarded by lockPath.
func New[T any](lockPath, filePath string) *Store[T] {
	return &Store[T]{lock: flock.New(lockPath), path: filePath}
}

// With loads the snapshot under lock and passes it to fn. A missing file
// reads as a zero-value T; if *T implements storage.Initer, Init runs before
// fn. The lock is held for the duration of fn.
func (s *Store[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.lock, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		return fn(data)
	})
}

// Update performs a read-modify-write under lock. The snapshot is written
// back atomically only when fn returns nil.
func (s *Store[T]) Update(ctx context.Context, fn func(*T) error) error {
	return s.With(ctx, func(data *T) error {
		if err := fn(data); err != nil {
			return err
		}
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", s.path, err)
		}
		// The guest index carries host paths and shell credentials; keep
		// it owner-only.
		return utils.AtomicWriteFile(s.path, append(raw, '\n'), 0o600)
	})
}

func (s *Store[T]) load() (*T, error) {
	data := new(T)
	raw, err := os.ReadFile(s.path) //nolint:gosec // path comes from config
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
		}
	}
	if initer, ok := any(data).(storage.Initer); ok {
		initer.Init()
	}
	return data, nil
}
