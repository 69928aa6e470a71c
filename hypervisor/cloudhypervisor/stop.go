package cloudhypervisor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/burrow/types"
	"github.com/projecteru2/burrow/utils"
)

const (
	// acpiPollInterval is how often we check if the guest has powered off
	// after sending an ACPI power-button event.
	acpiPollInterval = 500 * time.Millisecond
	// terminateGracePeriod is the SIGTERM→SIGKILL window.
	terminateGracePeriod = 5 * time.Second
)

// Terminate shuts down the CH process for g:
//  1. ACPI power-button, asking the guest OS to shut down cleanly.
//  2. Poll until the process exits or the stop timeout fires.
//  3. Fallback: vm.shutdown API, then SIGTERM → SIGKILL.
func (ch *CloudHypervisor) Terminate(ctx context.Context, g *types.Guest) error {
	defer ch.cleanupRuntimeFiles(g.ID)

	pid, _ := utils.ReadPIDFile(ch.conf.GuestPIDFile(g.ID))
	// Fast path: no running process.
	if !utils.IsProcessAlive(pid) {
		return nil
	}

	logger := log.WithFunc("cloudhypervisor.Terminate")
	socketPath := ch.conf.GuestAPISocket(g.ID)
	stopTimeout := time.Duration(ch.conf.StopTimeoutSeconds) * time.Second

	if err := powerButton(ctx, socketPath); err != nil {
		logger.Warnf(ctx, "power-button %s: %v, falling back", g.ID, err)
		return ch.forceTerminate(ctx, g.ID, socketPath, pid)
	}

	if err := utils.WaitFor(ctx, stopTimeout, acpiPollInterval, func() (bool, error) {
		return !utils.IsProcessAlive(pid), nil
	}); err == nil {
		return nil
	}

	// Guest did not power off in time, escalate.
	logger.Warnf(ctx, "guest %s did not respond to power-button within %s, falling back", g.ID, stopTimeout)
	return ch.forceTerminate(ctx, g.ID, socketPath, pid)
}

// forceTerminate flushes disk backends via vm.shutdown, then sends
// SIGTERM → SIGKILL. Verifies the PID still belongs to cloud-hypervisor
// before signalling to avoid killing a reused PID.
func (ch *CloudHypervisor) forceTerminate(ctx context.Context, guestID, socketPath string, pid int) error {
	if err := shutdownVM(ctx, socketPath); err != nil {
		log.WithFunc("cloudhypervisor.forceTerminate").Warnf(ctx, "vm.shutdown %s: %v", guestID, err)
	}
	if !utils.VerifyProcess(pid, filepath.Base(ch.conf.HypervisorBinary)) {
		return nil
	}
	return utils.TerminateProcess(ctx, pid, terminateGracePeriod)
}

// cleanupRuntimeFiles removes the per-guest socket and PID files once the
// process is gone.
func (ch *CloudHypervisor) cleanupRuntimeFiles(guestID string) {
	_ = os.Remove(ch.conf.GuestAPISocket(guestID))
	_ = os.Remove(ch.conf.GuestAgentSocket(guestID))
	_ = os.Remove(ch.conf.GuestPIDFile(guestID))
}
