package cloudhypervisor

import (
	"context"
	"fmt"

	"github.com/projecteru2/burrow/types"
	"github.com/projecteru2/burrow/utils"
)

// Pause freezes the guest's vCPUs via the management channel.
func (ch *CloudHypervisor) Pause(ctx context.Context, g *types.Guest) error {
	if err := pauseVM(ctx, ch.conf.GuestAPISocket(g.ID)); err != nil {
		return fmt.Errorf("vm.pause: %w", err)
	}
	return nil
}

// Resume thaws a paused guest.
func (ch *CloudHypervisor) Resume(ctx context.Context, g *types.Guest) error {
	if err := resumeVM(ctx, ch.conf.GuestAPISocket(g.ID)); err != nil {
		return fmt.Errorf("vm.resume: %w", err)
	}
	return nil
}

// SaveState snapshots the guest memory image into stateDir and tears the
// process down. CH requires the VM paused before vm.snapshot.
func (ch *CloudHypervisor) SaveState(ctx context.Context, g *types.Guest, stateDir string) error {
	if err := utils.EnsureDirs(stateDir); err != nil {
		return err
	}
	socketPath := ch.conf.GuestAPISocket(g.ID)
	if err := pauseVM(ctx, socketPath); err != nil {
		return fmt.Errorf("vm.pause before snapshot: %w", err)
	}
	if err := snapshotVM(ctx, socketPath, stateDir); err != nil {
		// Leave the guest running rather than half-saved.
		_ = resumeVM(ctx, socketPath)
		return fmt.Errorf("vm.snapshot: %w", err)
	}
	return ch.Terminate(ctx, g)
}

// RestoreState launches a fresh CH process and restores the guest from
// stateDir. Returns the new PID.
func (ch *CloudHypervisor) RestoreState(ctx context.Context, g *types.Guest, stateDir string) (int, error) {
	if err := ch.conf.EnsureGuestDirs(g.ID); err != nil {
		return 0, fmt.Errorf("ensure dirs: %w", err)
	}
	socketPath := ch.conf.GuestAPISocket(g.ID)
	pid, err := ch.launchProcess(ctx, g.ID, socketPath)
	if err != nil {
		return 0, fmt.Errorf("launch process: %w", err)
	}
	if err := restoreVM(ctx, socketPath, stateDir); err != nil {
		_ = ch.killProcess(g.ID, pid)
		return 0, fmt.Errorf("vm.restore: %w", err)
	}
	// Restored guests come back paused; resume to running.
	if err := resumeVM(ctx, socketPath); err != nil {
		_ = ch.killProcess(g.ID, pid)
		return 0, fmt.Errorf("vm.resume after restore: %w", err)
	}
	return pid, nil
}
