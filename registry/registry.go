// Package registry holds the authoritative in-memory map of guest identity to
// guest state. The lifecycle controller is the only writer; the gateway and
// health monitor read. Every mutation is written through to a flock-protected
// JSON snapshot so guests survive a controller restart and the monitor can
// reconcile them.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/storage"
	"github.com/projecteru2/burrow/types"
)

// Index is the snapshot structure persisted by the JSON store.
type Index struct {
	Guests map[string]*types.Guest `json:"guests"`
	Names  map[string]string       `json:"names"` // name → guest ID
}

// Init implements storage.Initer, initialising nil maps after deserialization.
func (idx *Index) Init() {
	if idx.Guests == nil {
		idx.Guests = make(map[string]*types.Guest)
	}
	if idx.Names == nil {
		idx.Names = make(map[string]string)
	}
}

// Registry is the in-memory guest index.
type Registry struct {
	mu     sync.RWMutex
	guests map[string]*types.Guest
	names  map[string]string
	max    int // 0 = unlimited

	store storage.Store[Index] // nil = in-memory only

	opMu     map[string]*sync.Mutex // per-guest operation locks
	opMuLock sync.Mutex
}

// New creates a Registry capped at max guests (0 = unlimited), optionally
// backed by a snapshot store.
func New(max int, store storage.Store[Index]) *Registry {
	return &Registry{
		guests: make(map[string]*types.Guest),
		names:  make(map[string]string),
		max:    max,
		store:  store,
		opMu:   make(map[string]*sync.Mutex),
	}
}

// GenerateID returns a fresh guest ID for callers that did not assign one.
func GenerateID() string { return uuid.NewString() }

// Load replaces the in-memory index with the persisted snapshot.
// Called once at startup, before any other access.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.With(ctx, func(idx *Index) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.guests = idx.Guests
		r.names = idx.Names
		return nil
	})
}

// LockGuest acquires the per-guest operation lock and returns its release
// func. Serializes lifecycle transitions and executions against one guest so
// a stop cannot race an execute.
func (r *Registry) LockGuest(id string) func() {
	r.opMuLock.Lock()
	mu, ok := r.opMu[id]
	if !ok {
		mu = &sync.Mutex{}
		r.opMu[id] = mu
	}
	r.opMuLock.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Resolve maps a user-supplied reference to a guest ID.
// Resolution order: exact ID → name → ID prefix (≥3 chars, must be unique).
func (r *Registry) Resolve(ref string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(ref)
}

func (r *Registry) resolveLocked(ref string) (string, error) {
	if r.guests[ref] != nil {
		return ref, nil
	}
	if id, ok := r.names[ref]; ok && r.guests[id] != nil {
		return id, nil
	}
	if len(ref) >= 3 {
		var match string
		for id := range r.guests {
			if strings.HasPrefix(id, ref) {
				if match != "" {
					return "", fmt.Errorf("ambiguous ref %q: multiple matches", ref)
				}
				match = id
			}
		}
		if match != "" {
			return match, nil
		}
	}
	return "", fmt.Errorf("%q: %w", ref, errdefs.ErrNotFound)
}

// Get returns a detached copy of the guest for ref.
func (r *Registry) Get(ref string) (types.Guest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, err := r.resolveLocked(ref)
	if err != nil {
		return types.Guest{}, err
	}
	return *r.guests[id], nil
}

// Len returns the number of registered guests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.guests)
}

// List returns detached copies of all guests.
func (r *Registry) List() []types.Guest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Guest, 0, len(r.guests))
	for _, g := range r.guests {
		out = append(out, *g)
	}
	return out
}

// Insert registers a new guest. Fails with ErrDuplicate on an ID or name
// collision and ErrRegistryFull at capacity. The entry is persisted before
// Insert returns.
func (r *Registry) Insert(ctx context.Context, g *types.Guest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.guests) >= r.max {
		return fmt.Errorf("capacity %d reached: %w", r.max, errdefs.ErrRegistryFull)
	}
	if r.guests[g.ID] != nil {
		return fmt.Errorf("ID %q: %w", g.ID, errdefs.ErrDuplicate)
	}
	if dup, ok := r.names[g.Config.Name]; ok {
		return fmt.Errorf("name %q (id %s): %w", g.Config.Name, dup, errdefs.ErrDuplicate)
	}
	cp := *g
	r.guests[g.ID] = &cp
	r.names[g.Config.Name] = g.ID
	return r.persistLocked(ctx)
}

// Update applies fn to the guest under the registry lock and persists the
// result. Returns a detached copy of the updated guest.
func (r *Registry) Update(ctx context.Context, id string, fn func(*types.Guest) error) (types.Guest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guests[id]
	if g == nil {
		return types.Guest{}, fmt.Errorf("%q: %w", id, errdefs.ErrNotFound)
	}
	if err := fn(g); err != nil {
		return types.Guest{}, err
	}
	if err := r.persistLocked(ctx); err != nil {
		return types.Guest{}, err
	}
	return *g, nil
}

// Delete removes the guest and frees its ID and name for reuse.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guests[id]
	if g == nil {
		return fmt.Errorf("%q: %w", id, errdefs.ErrNotFound)
	}
	delete(r.guests, id)
	delete(r.names, g.Config.Name)

	r.opMuLock.Lock()
	delete(r.opMu, id)
	r.opMuLock.Unlock()

	return r.persistLocked(ctx)
}

// persistLocked writes the full index through to the snapshot store.
// Caller holds r.mu.
func (r *Registry) persistLocked(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.Update(ctx, func(idx *Index) error {
		idx.Guests = r.guests
		idx.Names = r.names
		return nil
	})
}
