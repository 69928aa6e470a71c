//go:build !linux

package network

import (
	"fmt"

	"github.com/projecteru2/burrow/types"
)

// Setup is unsupported off Linux for tap/bridge modes.
func Setup(_ string, n *types.NetworkConfig) error {
	if n == nil || n.Mode == "" || n.Mode == types.NetworkModeUser {
		return nil
	}
	return fmt.Errorf("network mode %q requires linux", n.Mode)
}

// Teardown is a no-op off Linux.
func Teardown(_ *types.NetworkConfig) error { return nil }
