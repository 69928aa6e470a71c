// Package network performs host-side wiring for a guest's network
// descriptor. Mode "user" needs no host setup; "tap" creates a bare tap
// device; "bridge" additionally enslaves the tap to an existing bridge.
package network

import (
	"fmt"

	"github.com/projecteru2/burrow/types"
)

// TapName derives a deterministic tap device name from a guest ID,
// within the kernel's 15-char interface name limit.
func TapName(guestID string) string {
	if len(guestID) > 8 {
		guestID = guestID[:8]
	}
	return "brw-" + guestID
}

// Validate rejects descriptors whose mode-specific fields are incomplete.
func Validate(n *types.NetworkConfig) error {
	if n == nil {
		return nil
	}
	switch n.Mode {
	case "", types.NetworkModeUser, types.NetworkModeTap:
		return nil
	case types.NetworkModeBridge:
		if n.Bridge == "" {
			return fmt.Errorf("bridge mode requires a bridge name")
		}
		return nil
	default:
		return fmt.Errorf("unknown network mode %q", n.Mode)
	}
}
