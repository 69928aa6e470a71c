// Package hypervisor defines the driver contract for the underlying VMM.
// The control protocol itself is a black box behind a per-guest REST socket;
// burrow only drives launch, teardown and the auxiliary management verbs.
package hypervisor

import (
	"context"

	"github.com/projecteru2/burrow/types"
)

// Driver manages hypervisor processes for guests. Implementations must be
// safe for concurrent use across different guests; per-guest serialization is
// the registry's job.
type Driver interface {
	Type() string

	// Launch spawns the hypervisor process for g, boots the guest and
	// returns the PID. On error no process or runtime file is left behind,
	// so callers can retry safely.
	Launch(ctx context.Context, g *types.Guest) (int, error)

	// Terminate shuts the guest down gracefully, escalating to SIGKILL
	// after the configured grace window. Idempotent: a missing process is
	// not an error.
	Terminate(ctx context.Context, g *types.Guest) error

	// Pause and Resume freeze/thaw vCPUs via the management channel.
	Pause(ctx context.Context, g *types.Guest) error
	Resume(ctx context.Context, g *types.Guest) error

	// SaveState persists the guest memory image under stateDir and tears
	// down the process; the guest is no longer running afterward.
	SaveState(ctx context.Context, g *types.Guest, stateDir string) error
	// RestoreState launches a fresh process restored from stateDir and
	// returns its PID.
	RestoreState(ctx context.Context, g *types.Guest, stateDir string) (int, error)

	// ConsolePTY returns the host PTY path of the guest console for
	// interactive attach.
	ConsolePTY(ctx context.Context, g *types.Guest) (string, error)
}
