package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/types"
)

func newGuest(id, name string) *types.Guest {
	return &types.Guest{
		ID:     id,
		State:  types.GuestStateCreated,
		Config: types.GuestConfig{Name: name, CPU: 1, Memory: 1 << 30},
	}
}

func TestInsertAndResolve(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()

	if err := r.Insert(ctx, newGuest("abcdef123456", "web")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cases := []struct {
		ref  string
		want string
	}{
		{"abcdef123456", "abcdef123456"}, // exact ID
		{"web", "abcdef123456"},          // name
		{"abcd", "abcdef123456"},         // prefix
	}
	for _, tc := range cases {
		id, err := r.Resolve(tc.ref)
		if err != nil {
			t.Errorf("resolve %q: %v", tc.ref, err)
			continue
		}
		if id != tc.want {
			t.Errorf("resolve %q = %q, want %q", tc.ref, id, tc.want)
		}
	}

	if _, err := r.Resolve("ab"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("two-char prefix resolved, want ErrNotFound, got %v", err)
	}
	if _, err := r.Resolve("nope"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("unknown ref: got %v, want ErrNotFound", err)
	}
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()
	if err := r.Insert(ctx, newGuest("aaa111", "one")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(ctx, newGuest("aaa222", "two")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("aaa"); err == nil {
		t.Error("ambiguous prefix resolved, want error")
	}
	if id, err := r.Resolve("aaa1"); err != nil || id != "aaa111" {
		t.Errorf("unique prefix: id=%q err=%v", id, err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()
	if err := r.Insert(ctx, newGuest("id1", "web")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(ctx, newGuest("id1", "other")); !errors.Is(err, errdefs.ErrDuplicate) {
		t.Errorf("duplicate ID: got %v, want ErrDuplicate", err)
	}
	if err := r.Insert(ctx, newGuest("id2", "web")); !errors.Is(err, errdefs.ErrDuplicate) {
		t.Errorf("duplicate name: got %v, want ErrDuplicate", err)
	}
}

func TestRegistryFullAndReuseAfterDelete(t *testing.T) {
	r := New(2, nil)
	ctx := context.Background()
	if err := r.Insert(ctx, newGuest("id1", "a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(ctx, newGuest("id2", "b")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(ctx, newGuest("id3", "c")); !errors.Is(err, errdefs.ErrRegistryFull) {
		t.Fatalf("over capacity: got %v, want ErrRegistryFull", err)
	}

	if err := r.Delete(ctx, "id1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Both the slot and the identifiers are free again.
	if err := r.Insert(ctx, newGuest("id1", "a")); err != nil {
		t.Errorf("reinsert after delete: %v", err)
	}
}

func TestUpdateReturnsDetachedCopy(t *testing.T) {
	r := New(0, nil)
	ctx := context.Background()
	if err := r.Insert(ctx, newGuest("id1", "web")); err != nil {
		t.Fatal(err)
	}

	updated, err := r.Update(ctx, "id1", func(g *types.Guest) error {
		g.State = types.GuestStateRunning
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.State != types.GuestStateRunning {
		t.Errorf("updated copy state = %s", updated.State)
	}

	// Mutating the returned copy must not touch the stored record.
	updated.State = types.GuestStateError
	stored, err := r.Get("id1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != types.GuestStateRunning {
		t.Errorf("stored state = %s, copy mutation leaked", stored.State)
	}
}

func TestUpdateUnknownGuest(t *testing.T) {
	r := New(0, nil)
	_, err := r.Update(context.Background(), "ghost", func(*types.Guest) error { return nil })
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestLockGuestSerializes(t *testing.T) {
	r := New(0, nil)
	unlock := r.LockGuest("id1")

	acquired := make(chan struct{})
	go func() {
		u := r.LockGuest("id1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
}
