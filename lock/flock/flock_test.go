package flock

import (
	"context"
	"path/filepath"
	"testing"
)

func TestTryLockExcludesOtherInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	ctx := context.Background()

	a := New(path)
	b := New(path)

	ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock = (%v, %v)", ok, err)
	}
	if ok, err := b.TryLock(ctx); err != nil || ok {
		t.Fatalf("contended TryLock = (%v, %v), want (false, nil)", ok, err)
	}
	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, err := b.TryLock(ctx); err != nil || !ok {
		t.Fatalf("TryLock after release = (%v, %v)", ok, err)
	}
	if err := b.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestLockHonorsCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	holder := New(path)
	if err := holder.Lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer holder.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(path).Lock(ctx); err == nil {
		t.Fatal("contended Lock succeeded with cancelled context")
	}
}

func TestUnlockWithoutHoldIsSafe(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "index.lock"))
	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock unheld: %v", err)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "locks", "index.lock")
	l := New(path)
	ok, err := l.TryLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("TryLock under fresh dir = (%v, %v)", ok, err)
	}
	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
