package cloudhypervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/projecteru2/burrow/hypervisor"
)

// REST verbs against the per-guest CH API socket. Each call retries
// transient failures with backoff via hypervisor.DoWithRetry.

func createVM(ctx context.Context, socketPath string, cfg *chVMConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal vm.create: %w", err)
	}
	return hypervisor.DoWithRetry(ctx, func() error {
		return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.create", body)
	})
}

func bootVM(ctx context.Context, socketPath string) error {
	return hypervisor.DoWithRetry(ctx, func() error {
		return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.boot", nil)
	})
}

func shutdownVM(ctx context.Context, socketPath string) error {
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.shutdown", nil)
}

func powerButton(ctx context.Context, socketPath string) error {
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.power-button", nil)
}

func pauseVM(ctx context.Context, socketPath string) error {
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.pause", nil)
}

func resumeVM(ctx context.Context, socketPath string) error {
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.resume", nil)
}

func snapshotVM(ctx context.Context, socketPath, destDir string) error {
	body, err := json.Marshal(map[string]string{"destination_url": "file://" + destDir})
	if err != nil {
		return fmt.Errorf("marshal vm.snapshot: %w", err)
	}
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.snapshot", body)
}

func restoreVM(ctx context.Context, socketPath, srcDir string) error {
	body, err := json.Marshal(map[string]any{"source_url": "file://" + srcDir})
	if err != nil {
		return fmt.Errorf("marshal vm.restore: %w", err)
	}
	return hypervisor.DoPUT(ctx, socketPath, "/api/v1/vm.restore", body)
}

// isAlreadyCreated detects the "VM already created" API error so vm.create
// can be treated as idempotent.
func isAlreadyCreated(err error) bool {
	return apiErrorContains(err, "already created")
}

// isAlreadyBooted detects the "VM already booted" API error.
func isAlreadyBooted(err error) bool {
	return apiErrorContains(err, "already booted") || apiErrorContains(err, "already running")
}

func apiErrorContains(err error, substr string) bool {
	var ae *hypervisor.APIError
	if !errors.As(err, &ae) {
		return false
	}
	return strings.Contains(strings.ToLower(ae.Message), substr)
}
