//go:build linux

package network

import (
	"errors"
	"fmt"
	"os"

	"github.com/vishvananda/netlink"

	"github.com/projecteru2/burrow/types"
)

// Setup creates the guest's tap device and brings it up. Fills in the tap
// name on the descriptor when the caller left it empty. Idempotent: an
// existing device is reused.
func Setup(guestID string, n *types.NetworkConfig) error {
	if n == nil || n.Mode == "" || n.Mode == types.NetworkModeUser {
		return nil
	}
	if err := Validate(n); err != nil {
		return err
	}
	if n.Tap == "" {
		n.Tap = TapName(guestID)
	}

	la := netlink.NewLinkAttrs()
	la.Name = n.Tap
	tap := &netlink.Tuntap{LinkAttrs: la, Mode: netlink.TUNTAP_MODE_TAP}
	if err := netlink.LinkAdd(tap); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create tap %s: %w", n.Tap, err)
	}
	link, err := netlink.LinkByName(n.Tap)
	if err != nil {
		return fmt.Errorf("lookup tap %s: %w", n.Tap, err)
	}

	if n.Mode == types.NetworkModeBridge {
		br, err := netlink.LinkByName(n.Bridge)
		if err != nil {
			return fmt.Errorf("lookup bridge %s: %w", n.Bridge, err)
		}
		if err := netlink.LinkSetMaster(link, br); err != nil {
			return fmt.Errorf("enslave %s to %s: %w", n.Tap, n.Bridge, err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring up %s: %w", n.Tap, err)
	}
	return nil
}

// Teardown deletes the guest's tap device. A missing device is not an error.
func Teardown(n *types.NetworkConfig) error {
	if n == nil || n.Mode == "" || n.Mode == types.NetworkModeUser || n.Tap == "" {
		return nil
	}
	link, err := netlink.LinkByName(n.Tap)
	if err != nil {
		return nil // already gone
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete tap %s: %w", n.Tap, err)
	}
	return nil
}
