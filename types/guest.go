package types

import "time"

// GuestState represents the lifecycle state of a guest.
type GuestState string

const (
	GuestStateCreated GuestState = "created" // registered, launch not yet confirmed
	GuestStateRunning GuestState = "running" // hypervisor process alive, guest is up
	GuestStatePaused  GuestState = "paused"  // vCPUs frozen via the management channel
	GuestStateSaved   GuestState = "saved"   // memory image persisted, process gone
	GuestStateStopped GuestState = "stopped" // process exited
	GuestStateError   GuestState = "error"   // a transition failed or the process vanished
	GuestStateRemoved GuestState = "removed" // tombstone, only seen in audit events
)

// ExecMethod selects the channel used to run commands inside a guest.
type ExecMethod string

const (
	// MethodGuestChannel is the in-band agent channel. Works without guest
	// networking; the default for every guest.
	MethodGuestChannel ExecMethod = "guest-channel"
	// MethodRemoteShell runs commands over SSH. Requires RemoteShellConfig.
	MethodRemoteShell ExecMethod = "remote-shell"
	// MethodConsole is the emulated-terminal channel. Selectable explicitly
	// only; currently a documented stub.
	MethodConsole ExecMethod = "console"
)

// NetworkMode is the host-side wiring for a guest NIC.
type NetworkMode string

const (
	NetworkModeUser   NetworkMode = "user"   // hypervisor user-mode stack, no host setup
	NetworkModeBridge NetworkMode = "bridge" // tap attached to an existing bridge
	NetworkModeTap    NetworkMode = "tap"    // bare tap device
)

// NetworkConfig describes the guest's network descriptor.
type NetworkConfig struct {
	Mode   NetworkMode `json:"mode"`
	Bridge string      `json:"bridge,omitempty"` // bridge mode only
	Tap    string      `json:"tap,omitempty"`    // tap device name, generated if empty
	MAC    string      `json:"mac,omitempty"`
}

// RemoteShellConfig holds the SSH endpoint used by the remote-shell channel.
// Credential is a reference (private key path), never inline secret material.
type RemoteShellConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	User    string `json:"user"`
	KeyPath string `json:"key_path"`
}

// GuestConfig describes the resources requested for a new guest.
// Image and resource fields are immutable once the guest is running, except
// via explicit reconfigure-then-restart.
type GuestConfig struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	CPU    int    `json:"cpu"`
	Memory int64  `json:"memory"` // bytes
}

// Guest is the runtime record for a managed guest, held in the Registry.
//
// State is written only by the lifecycle controller; AgentInstalled is set by
// the gateway after the first successful guest-channel round trip and stays
// set until remove.
type Guest struct {
	ID     string      `json:"id"`
	State  GuestState  `json:"state"`
	Config GuestConfig `json:"config"`

	Network     *NetworkConfig     `json:"network,omitempty"`
	ExecMethod  ExecMethod         `json:"exec_method"`
	RemoteShell *RemoteShellConfig `json:"remote_shell,omitempty"`

	AgentInstalled  bool   `json:"agent_installed,omitempty"`
	PayloadDeployed bool   `json:"payload_deployed,omitempty"`
	PayloadPath     string `json:"payload_path,omitempty"`

	// PIDFile is owned by the lifecycle controller; the health monitor and
	// the stop/kill paths read it to find the hypervisor process.
	PIDFile string `json:"pid_file,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	PausedAt   *time.Time `json:"paused_at,omitempty"`
	SavedAt    *time.Time `json:"saved_at,omitempty"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`
}
