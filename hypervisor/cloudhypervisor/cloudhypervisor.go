// Package cloudhypervisor implements hypervisor.Driver on the Cloud
// Hypervisor VMM: one CH process per guest, driven over a per-guest REST
// Unix socket.
package cloudhypervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/hypervisor"
	"github.com/projecteru2/burrow/types"
)

const typ = "cloud-hypervisor"

// compile-time interface check.
var _ hypervisor.Driver = (*CloudHypervisor)(nil)

// CloudHypervisor drives guests through the Cloud Hypervisor REST API.
type CloudHypervisor struct {
	conf *config.Config
}

// New creates a CloudHypervisor driver.
func New(conf *config.Config) *CloudHypervisor {
	return &CloudHypervisor{conf: conf}
}

func (ch *CloudHypervisor) Type() string { return typ }

// ConsolePTY queries vm.info for the host PTY path of the guest console.
func (ch *CloudHypervisor) ConsolePTY(ctx context.Context, g *types.Guest) (string, error) {
	body, err := hypervisor.DoGET(ctx, ch.conf.GuestAPISocket(g.ID), "/api/v1/vm.info")
	if err != nil {
		return "", fmt.Errorf("vm.info: %w", err)
	}
	var info struct {
		Config struct {
			Console struct {
				File string `json:"file"`
				Mode string `json:"mode"`
			} `json:"console"`
		} `json:"config"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parse vm.info: %w", err)
	}
	if info.Config.Console.Mode != "Pty" || info.Config.Console.File == "" {
		return "", fmt.Errorf("guest %s has no console PTY", g.ID)
	}
	return info.Config.Console.File, nil
}
