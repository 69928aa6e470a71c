package json

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type index struct {
	Entries map[string]string `json:"entries"`
}

func (i *index) Init() {
	if i.Entries == nil {
		i.Entries = make(map[string]string)
	}
}

func newTestStore(t *testing.T) *Store[index] {
	t.Helper()
	dir := t.TempDir()
	return New[index](filepath.Join(dir, "index.lock"), filepath.Join(dir, "index.json"))
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, func(idx *index) error {
		idx.Entries["g1"] = "running"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.With(ctx, func(idx *index) error {
		if idx.Entries["g1"] != "running" {
			t.Errorf("entries = %v", idx.Entries)
		}
		return nil
	}); err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestStoreMissingFileReadsInitialized(t *testing.T) {
	s := newTestStore(t)
	if err := s.With(context.Background(), func(idx *index) error {
		if idx.Entries == nil {
			t.Error("Init not applied to zero-value snapshot")
		}
		if len(idx.Entries) != 0 {
			t.Errorf("entries = %v, want empty", idx.Entries)
		}
		return nil
	}); err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestStoreUpdateErrorDoesNotPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	if err := s.Update(ctx, func(idx *index) error {
		idx.Entries["g1"] = "running"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("update err = %v, want boom", err)
	}

	if err := s.With(ctx, func(idx *index) error {
		if len(idx.Entries) != 0 {
			t.Errorf("failed update persisted: %v", idx.Entries)
		}
		return nil
	}); err != nil {
		t.Fatalf("with: %v", err)
	}
}

func TestStoreSnapshotIsOwnerOnly(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update(context.Background(), func(idx *index) error {
		idx.Entries["g1"] = "running"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("snapshot mode = %o, want 600", perm)
	}
}
