package cloudhypervisor

import (
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/types"
)

// agentCID is the guest-side vsock context ID carrying the agent channel.
const agentCID = 3

type chVMConfig struct {
	CPUs    chCPUs    `json:"cpus"`
	Memory  chMemory  `json:"memory"`
	Disks   []chDisk  `json:"disks,omitempty"`
	Net     []chNet   `json:"net,omitempty"`
	RNG     chRNG     `json:"rng"`
	Serial  chSerial  `json:"serial"`
	Console chConsole `json:"console"`
	Vsock   *chVsock  `json:"vsock,omitempty"`
}

type chCPUs struct {
	BootVCPUs int `json:"boot_vcpus"`
	MaxVCPUs  int `json:"max_vcpus"`
}

type chMemory struct {
	Size int64 `json:"size"`
}

type chDisk struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"readonly,omitempty"`
}

type chNet struct {
	Tap string `json:"tap,omitempty"`
	MAC string `json:"mac,omitempty"`
}

type chRNG struct {
	Src string `json:"src"`
}

type chSerial struct {
	Mode string `json:"mode"`
	File string `json:"file,omitempty"`
}

type chConsole struct {
	Mode string `json:"mode"`
}

type chVsock struct {
	CID    int    `json:"cid"`
	Socket string `json:"socket"`
}

// buildVMConfig maps a guest record to the CH vm.create payload.
// Serial goes to a log file; the console is a PTY for interactive attach;
// the vsock device carries the guest agent channel.
func buildVMConfig(conf *config.Config, g *types.Guest) *chVMConfig {
	cfg := &chVMConfig{
		CPUs:    chCPUs{BootVCPUs: g.Config.CPU, MaxVCPUs: g.Config.CPU},
		Memory:  chMemory{Size: g.Config.Memory},
		Disks:   []chDisk{{Path: g.Config.Image}},
		RNG:     chRNG{Src: "/dev/urandom"},
		Serial:  chSerial{Mode: "File", File: conf.GuestSerialLog(g.ID)},
		Console: chConsole{Mode: "Pty"},
		Vsock:   &chVsock{CID: agentCID, Socket: conf.GuestAgentSocket(g.ID)},
	}
	if n := g.Network; n != nil && n.Mode != types.NetworkModeUser {
		cfg.Net = append(cfg.Net, chNet{Tap: n.Tap, MAC: n.MAC})
	}
	return cfg
}
