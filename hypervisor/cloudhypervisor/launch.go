package cloudhypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/projecteru2/burrow/hypervisor"
	"github.com/projecteru2/burrow/types"
	"github.com/projecteru2/burrow/utils"
)

const (
	socketWaitTimeout  = 5 * time.Second
	socketPollInterval = 100 * time.Millisecond
)

// Launch spawns the CH process for g, configures and boots the guest, and
// returns the PID. Any failure tears the process and runtime files back down
// so the caller sees no partial state.
func (ch *CloudHypervisor) Launch(ctx context.Context, g *types.Guest) (int, error) {
	if err := ch.conf.EnsureGuestDirs(g.ID); err != nil {
		return 0, fmt.Errorf("ensure dirs: %w", err)
	}

	socketPath := ch.conf.GuestAPISocket(g.ID)

	// Clean up stale socket and PID file from any previous run.
	_ = os.Remove(socketPath)
	_ = os.Remove(ch.conf.GuestPIDFile(g.ID))

	pid, err := ch.launchProcess(ctx, g.ID, socketPath)
	if err != nil {
		return 0, fmt.Errorf("launch process: %w", err)
	}

	if err := ch.callCreateVM(ctx, socketPath, buildVMConfig(ch.conf, g)); err != nil {
		_ = ch.killProcess(g.ID, pid)
		return 0, fmt.Errorf("vm.create: %w", err)
	}
	if err := ch.callBootVM(ctx, socketPath); err != nil {
		_ = ch.killProcess(g.ID, pid)
		return 0, fmt.Errorf("vm.boot: %w", err)
	}
	return pid, nil
}

// launchProcess starts the cloud-hypervisor binary, writes the PID file,
// waits for the API socket to be ready, then releases the process handle so
// CH lives as an independent OS process past the lifetime of this binary.
func (ch *CloudHypervisor) launchProcess(ctx context.Context, guestID, socketPath string) (int, error) {
	logFile, _ := os.Create(ch.conf.GuestProcessLog(guestID)) //nolint:gosec

	cmd := exec.Command(ch.conf.HypervisorBinary, "--api-socket", socketPath) //nolint:gosec
	// Detach from the parent process group so CH survives if this process exits.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return 0, fmt.Errorf("exec %s: %w", ch.conf.HypervisorBinary, err)
	}
	pid := cmd.Process.Pid

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
	}

	if err := utils.WritePIDFile(ch.conf.GuestPIDFile(guestID), pid); err != nil {
		cleanup()
		return 0, fmt.Errorf("write PID file: %w", err)
	}

	if err := waitForSocket(ctx, socketPath, pid); err != nil {
		cleanup()
		_ = os.Remove(ch.conf.GuestPIDFile(guestID))
		return 0, err
	}

	// Release the process handle: CH is fully detached from the Go runtime.
	_ = cmd.Process.Release()
	if logFile != nil {
		_ = logFile.Close()
	}
	return pid, nil
}

// waitForSocket polls until socketPath is connectable, the process exits, or
// the timeout/context fires.
func waitForSocket(ctx context.Context, socketPath string, pid int) error {
	return utils.WaitFor(ctx, socketWaitTimeout, socketPollInterval, func() (bool, error) {
		if hypervisor.CheckSocket(socketPath) == nil {
			return true, nil
		}
		if !utils.IsProcessAlive(pid) {
			return false, fmt.Errorf("hypervisor exited before socket %s was ready", socketPath)
		}
		return false, nil
	})
}

// callCreateVM wraps createVM with idempotency: treats "already created" as success.
func (ch *CloudHypervisor) callCreateVM(ctx context.Context, socketPath string, cfg *chVMConfig) error {
	err := createVM(ctx, socketPath, cfg)
	if isAlreadyCreated(err) {
		return nil
	}
	return err
}

// callBootVM wraps bootVM with idempotency: treats "already booted" as success.
func (ch *CloudHypervisor) callBootVM(ctx context.Context, socketPath string) error {
	err := bootVM(ctx, socketPath)
	if isAlreadyBooted(err) {
		return nil
	}
	return err
}

// killProcess terminates the CH process for guestID as a cleanup measure
// after a failed launch sequence.
func (ch *CloudHypervisor) killProcess(guestID string, pid int) error {
	_ = os.Remove(ch.conf.GuestAPISocket(guestID))
	_ = os.Remove(ch.conf.GuestPIDFile(guestID))
	if pid > 0 && utils.IsProcessAlive(pid) {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return nil
		}
		return proc.Kill()
	}
	return nil
}
