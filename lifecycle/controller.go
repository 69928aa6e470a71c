// Package lifecycle implements the guest state machine. The Controller is
// the sole writer of guest status: every transition validates the current
// state, drives the hypervisor, stamps the transition timestamp and appends
// one audit entry. A failed launch leaves no partial state behind so callers
// can always retry.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/burrow/audit"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/hypervisor"
	"github.com/projecteru2/burrow/network"
	"github.com/projecteru2/burrow/policy"
	"github.com/projecteru2/burrow/registry"
	"github.com/projecteru2/burrow/types"
)

// restartSettle is the pause between stop and start during restart, giving
// the hypervisor time to release sockets and the tap device.
const restartSettle = 500 * time.Millisecond

// Controller owns all guest state transitions.
type Controller struct {
	conf     *config.Config
	registry *registry.Registry
	driver   hypervisor.Driver
	policy   *policy.Evaluator
	sink     *audit.Sink
}

// New creates a Controller.
func New(conf *config.Config, reg *registry.Registry, driver hypervisor.Driver, pol *policy.Evaluator, sink *audit.Sink) *Controller {
	return &Controller{conf: conf, registry: reg, driver: driver, policy: pol, sink: sink}
}

// CreateOptions carries the optional parts of a create request.
type CreateOptions struct {
	// ID is caller-assigned; generated when empty.
	ID          string
	Network     *types.NetworkConfig
	ExecMethod  types.ExecMethod
	RemoteShell *types.RemoteShellConfig
}

// Create registers a guest and launches it. Launch and boot are coupled in
// this design, so a successful create leaves the guest running. Any failure
// removes the registry entry again, so the ID stays reusable.
func (c *Controller) Create(ctx context.Context, cfg *types.GuestConfig, opts CreateOptions) (*types.Guest, error) {
	if vs := c.policy.ValidateResources(ctx, cfg); len(vs) > 0 {
		return nil, fmt.Errorf("%s: %w", policy.Join(vs), errdefs.ErrPolicyViolation)
	}
	if err := network.Validate(opts.Network); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = registry.GenerateID()
	}
	method := opts.ExecMethod
	if method == "" {
		method = types.MethodGuestChannel
	}

	unlock := c.registry.LockGuest(id)
	defer unlock()

	now := time.Now()
	g := &types.Guest{
		ID:          id,
		State:       types.GuestStateCreated,
		Config:      *cfg,
		Network:     opts.Network,
		ExecMethod:  method,
		RemoteShell: opts.RemoteShell,
		PIDFile:     c.conf.GuestPIDFile(id),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.registry.Insert(ctx, g); err != nil {
		return nil, err
	}

	if err := network.Setup(id, g.Network); err != nil {
		_ = c.registry.Delete(ctx, id)
		return nil, fmt.Errorf("network setup: %w", err)
	}

	pid, err := c.driver.Launch(ctx, g)
	if err != nil {
		// No partially-created guest: drop the entry so create is retryable.
		_ = network.Teardown(g.Network)
		_ = c.registry.Delete(ctx, id)
		return nil, fmt.Errorf("launch guest: %w", err)
	}
	log.WithFunc("lifecycle.Create").Infof(ctx, "guest %s launched, pid %d", id, pid)

	updated, err := c.registry.Update(ctx, id, func(cur *types.Guest) error {
		started := time.Now()
		cur.State = types.GuestStateRunning
		cur.Network = g.Network // tap name may have been filled in
		cur.StartedAt = &started
		cur.UpdatedAt = started
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_created", id, "create")
	return &updated, nil
}

// Start launches a created or stopped guest. A launch failure leaves the
// recorded state unchanged.
func (c *Controller) Start(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.startLocked(ctx, g)
}

func (c *Controller) startLocked(ctx context.Context, g types.Guest) (*types.Guest, error) {
	// Error state is startable: the monitor marks a guest error when its
	// process vanishes, and relaunching is the recovery path.
	if err := requireState(&g, "start", types.GuestStateCreated, types.GuestStateStopped, types.GuestStateError); err != nil {
		return nil, err
	}
	if err := network.Setup(g.ID, g.Network); err != nil {
		return nil, fmt.Errorf("network setup: %w", err)
	}
	if _, err := c.driver.Launch(ctx, &g); err != nil {
		return nil, fmt.Errorf("launch guest: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		started := time.Now()
		cur.State = types.GuestStateRunning
		cur.Network = g.Network
		cur.StartedAt = &started
		cur.UpdatedAt = started
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_started", g.ID, "start")
	return &updated, nil
}

// Stop shuts a running guest down.
func (c *Controller) Stop(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.stopLocked(ctx, g)
}

func (c *Controller) stopLocked(ctx context.Context, g types.Guest) (*types.Guest, error) {
	if err := requireState(&g, "stop", types.GuestStateRunning); err != nil {
		return nil, err
	}
	if err := c.driver.Terminate(ctx, &g); err != nil {
		return nil, fmt.Errorf("terminate guest: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		stopped := time.Now()
		cur.State = types.GuestStateStopped
		cur.StoppedAt = &stopped
		cur.UpdatedAt = stopped
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_stopped", g.ID, "stop")
	return &updated, nil
}

// StartIfStopped brings the guest to running from any state, reporting
// skipped=true when it already was.
func (c *Controller) StartIfStopped(ctx context.Context, ref string) (g *types.Guest, skipped bool, err error) {
	cur, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	switch cur.State {
	case types.GuestStateRunning:
		return &cur, true, nil
	case types.GuestStateCreated, types.GuestStateStopped, types.GuestStateError:
		g, err = c.startLocked(ctx, cur)
	case types.GuestStatePaused:
		g, err = c.resumeLocked(ctx, cur)
	case types.GuestStateSaved:
		g, err = c.restoreLocked(ctx, cur)
	default:
		return nil, false, fmt.Errorf("guest %s is %s: %w", cur.ID, cur.State, errdefs.ErrInvalidState)
	}
	return g, false, err
}

// StopIfRunning stops the guest when running, reporting skipped=true
// otherwise. Never an error on a non-running guest.
func (c *Controller) StopIfRunning(ctx context.Context, ref string) (g *types.Guest, skipped bool, err error) {
	cur, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	if cur.State != types.GuestStateRunning {
		return &cur, true, nil
	}
	g, err = c.stopLocked(ctx, cur)
	return g, false, err
}

// Restart stops and relaunches a running guest.
func (c *Controller) Restart(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stopped, err := c.stopLocked(ctx, g)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(restartSettle):
	}
	return c.startLocked(ctx, *stopped)
}

// Pause freezes a running guest via the management channel.
func (c *Controller) Pause(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireState(&g, "pause", types.GuestStateRunning); err != nil {
		return nil, err
	}
	if err := c.driver.Pause(ctx, &g); err != nil {
		return nil, fmt.Errorf("pause guest: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		paused := time.Now()
		cur.State = types.GuestStatePaused
		cur.PausedAt = &paused
		cur.UpdatedAt = paused
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_paused", g.ID, "pause")
	return &updated, nil
}

// Resume thaws a paused guest.
func (c *Controller) Resume(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.resumeLocked(ctx, g)
}

func (c *Controller) resumeLocked(ctx context.Context, g types.Guest) (*types.Guest, error) {
	if err := requireState(&g, "resume", types.GuestStatePaused); err != nil {
		return nil, err
	}
	if err := c.driver.Resume(ctx, &g); err != nil {
		return nil, fmt.Errorf("resume guest: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		cur.State = types.GuestStateRunning
		cur.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_resumed", g.ID, "resume")
	return &updated, nil
}

// SaveState persists the guest memory image; the guest is no longer running
// afterward.
func (c *Controller) SaveState(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := requireState(&g, "save_state", types.GuestStateRunning); err != nil {
		return nil, err
	}
	if err := c.driver.SaveState(ctx, &g, c.conf.GuestStateDir(g.ID)); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		saved := time.Now()
		cur.State = types.GuestStateSaved
		cur.SavedAt = &saved
		cur.UpdatedAt = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_state_saved", g.ID, "save_state")
	return &updated, nil
}

// RestoreState brings a saved guest back to running from its memory image.
func (c *Controller) RestoreState(ctx context.Context, ref string) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.restoreLocked(ctx, g)
}

func (c *Controller) restoreLocked(ctx context.Context, g types.Guest) (*types.Guest, error) {
	if err := requireState(&g, "restore_state", types.GuestStateSaved); err != nil {
		return nil, err
	}
	if _, err := c.driver.RestoreState(ctx, &g, c.conf.GuestStateDir(g.ID)); err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		restored := time.Now()
		cur.State = types.GuestStateRunning
		cur.RestoredAt = &restored
		cur.UpdatedAt = restored
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, "guest_state_restored", g.ID, "restore_state")
	return &updated, nil
}

// Remove deletes the guest, forcing a stop first when it is running or
// paused. Releases the process handle, host network wiring, saved state and
// the registry entry; the ID becomes reusable.
func (c *Controller) Remove(ctx context.Context, ref string) error {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return err
	}
	defer unlock()

	if g.State == types.GuestStateRunning || g.State == types.GuestStatePaused {
		if err := c.driver.Terminate(ctx, &g); err != nil {
			return fmt.Errorf("stop before remove: %w", err)
		}
	}
	if err := network.Teardown(g.Network); err != nil {
		log.WithFunc("lifecycle.Remove").Warnf(ctx, "network teardown %s: %v", g.ID, err)
	}
	_ = os.RemoveAll(c.conf.GuestStateDir(g.ID))
	_ = os.RemoveAll(c.conf.GuestRunDir(g.ID))

	if err := c.registry.Delete(ctx, g.ID); err != nil {
		return err
	}
	c.audit(ctx, "guest_removed", g.ID, "remove")
	return nil
}

// SetExecMethod reconfigures the guest's preferred execution channel and,
// optionally, its remote shell endpoint.
func (c *Controller) SetExecMethod(ctx context.Context, ref string, method types.ExecMethod, shell *types.RemoteShellConfig) (*types.Guest, error) {
	g, unlock, err := c.acquire(ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch method {
	case types.MethodGuestChannel, types.MethodRemoteShell, types.MethodConsole:
	default:
		return nil, fmt.Errorf("unknown exec method %q", method)
	}
	updated, err := c.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		cur.ExecMethod = method
		if shell != nil {
			cur.RemoteShell = shell
		}
		cur.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Describe returns a detached copy of the guest record.
func (c *Controller) Describe(ref string) (types.Guest, error) {
	return c.registry.Get(ref)
}

// List returns all guests.
func (c *Controller) List() []types.Guest {
	return c.registry.List()
}

// ConsolePTY resolves the guest's console PTY path for interactive attach.
func (c *Controller) ConsolePTY(ctx context.Context, ref string) (string, error) {
	g, err := c.registry.Get(ref)
	if err != nil {
		return "", err
	}
	if g.State != types.GuestStateRunning {
		return "", fmt.Errorf("guest %s is %s, not running: %w", g.ID, g.State, errdefs.ErrInvalidState)
	}
	return c.driver.ConsolePTY(ctx, &g)
}

// acquire resolves ref, takes the per-guest operation lock and returns a
// detached copy read under that lock.
func (c *Controller) acquire(ref string) (types.Guest, func(), error) {
	id, err := c.registry.Resolve(ref)
	if err != nil {
		return types.Guest{}, nil, err
	}
	unlock := c.registry.LockGuest(id)
	g, err := c.registry.Get(id)
	if err != nil {
		unlock()
		return types.Guest{}, nil, err
	}
	return g, unlock, nil
}

func requireState(g *types.Guest, op string, valid ...types.GuestState) error {
	for _, s := range valid {
		if g.State == s {
			return nil
		}
	}
	return fmt.Errorf("%s: guest %s is %s: %w", op, g.ID, g.State, errdefs.ErrInvalidState)
}

func (c *Controller) audit(ctx context.Context, event, guestID, op string) {
	if c.sink == nil {
		return
	}
	c.sink.Record(ctx, audit.Event{Event: event, GuestID: guestID, Operation: op})
}
