package config

import (
	"path/filepath"
	"runtime"

	coretypes "github.com/projecteru2/core/types"

	"github.com/projecteru2/burrow/utils"
)

// PolicyConfig holds the security policy limits enforced by the evaluator.
type PolicyConfig struct {
	// Mode is "strict" (enforce allow-sets) or "permissive" (no violations).
	Mode string `json:"mode" mapstructure:"mode"`
	// MaxMemory is the per-guest memory ceiling in bytes.
	MaxMemory int64 `json:"max_memory" mapstructure:"max_memory"`
	// MaxCPU is the per-guest vCPU ceiling.
	MaxCPU int `json:"max_cpu" mapstructure:"max_cpu"`
	// AllowedPaths is the allow-set of root directories for disk/volume
	// arguments. Only consulted in strict mode.
	AllowedPaths []string `json:"allowed_paths" mapstructure:"allowed_paths"`
	// BannedCommands is the ban-set of dangerous command substrings.
	BannedCommands []string `json:"banned_commands" mapstructure:"banned_commands"`
}

// Config holds global burrow configuration.
type Config struct {
	// RootDir is the base directory for persistent data (index, audit log).
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir is the base directory for runtime files (sockets, PID files).
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir is the base directory for per-guest hypervisor logs.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`

	// HypervisorBinary is the cloud-hypervisor binary path or name.
	HypervisorBinary string `json:"hypervisor_binary" mapstructure:"hypervisor_binary"`

	// MaxGuests caps the registry size. Zero means unlimited.
	MaxGuests int `json:"max_guests" mapstructure:"max_guests"`
	// PoolSize is the goroutine pool size for health-check fan-out.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`

	// StopTimeoutSeconds is the graceful-shutdown window before SIGKILL.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`
	// MonitorIntervalSeconds is the health monitor poll cycle.
	MonitorIntervalSeconds int `json:"monitor_interval_seconds" mapstructure:"monitor_interval_seconds"`
	// ExecTimeoutSeconds is the default execution timeout when the caller
	// does not supply one.
	ExecTimeoutSeconds int `json:"exec_timeout_seconds" mapstructure:"exec_timeout_seconds"`

	Policy PolicyConfig `json:"policy" mapstructure:"policy"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:                "/var/lib/burrow",
		RunDir:                 "/run/burrow",
		LogDir:                 "/var/log/burrow",
		HypervisorBinary:       "cloud-hypervisor",
		PoolSize:               runtime.NumCPU(),
		StopTimeoutSeconds:     30,
		MonitorIntervalSeconds: 10,
		ExecTimeoutSeconds:     60,
		Policy: PolicyConfig{
			Mode:      "strict",
			MaxMemory: 16 << 30,
			MaxCPU:    16,
			AllowedPaths: []string{
				"/var/lib/burrow",
			},
			BannedCommands: DefaultBannedCommands(),
		},
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// DefaultBannedCommands returns the built-in ban-set of command substrings
// rejected in strict mode: destructive filesystem wipes, raw-device writes,
// and the classic fork bomb.
func DefaultBannedCommands() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs.",
		"dd if=/dev/zero of=/dev/",
		":(){ :|:& };:",
		"> /dev/sda",
		"chmod -R 777 /",
	}
}

// Normalize fills zero-value fields after viper.Unmarshal.
func (c *Config) Normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = 30
	}
	if c.MonitorIntervalSeconds <= 0 {
		c.MonitorIntervalSeconds = 10
	}
	if c.ExecTimeoutSeconds <= 0 {
		c.ExecTimeoutSeconds = 60
	}
}

// EnsureDirs creates the top-level data, runtime and log directories.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(c.RootDir, c.RunDir, c.LogDir, filepath.Join(c.RootDir, "state"))
}

// EnsureGuestDirs creates per-guest runtime and log directories.
func (c *Config) EnsureGuestDirs(id string) error {
	return utils.EnsureDirs(c.GuestRunDir(id), c.GuestLogDir(id))
}

// IndexFile is the registry snapshot path.
func (c *Config) IndexFile() string { return filepath.Join(c.RootDir, "guests.json") }

// IndexLock is the flock path guarding the registry snapshot.
func (c *Config) IndexLock() string { return filepath.Join(c.RootDir, "guests.lock") }

// AuditLog is the append-only audit sink path.
func (c *Config) AuditLog() string { return filepath.Join(c.RootDir, "audit.log") }

// AuditLock is the flock path guarding the audit sink.
func (c *Config) AuditLock() string { return filepath.Join(c.RootDir, "audit.lock") }

// GuestRunDir holds a guest's sockets and PID file.
func (c *Config) GuestRunDir(id string) string { return filepath.Join(c.RunDir, id) }

// GuestLogDir holds a guest's hypervisor process and serial logs.
func (c *Config) GuestLogDir(id string) string { return filepath.Join(c.LogDir, id) }

// GuestPIDFile is the hypervisor process handle for a guest.
func (c *Config) GuestPIDFile(id string) string {
	return filepath.Join(c.GuestRunDir(id), "hypervisor.pid")
}

// GuestAPISocket is the hypervisor management (REST) socket.
func (c *Config) GuestAPISocket(id string) string {
	return filepath.Join(c.GuestRunDir(id), "api.sock")
}

// GuestAgentSocket is the in-band guest agent channel socket.
func (c *Config) GuestAgentSocket(id string) string {
	return filepath.Join(c.GuestRunDir(id), "agent.sock")
}

// GuestProcessLog captures the hypervisor process's own stdout/stderr.
func (c *Config) GuestProcessLog(id string) string {
	return filepath.Join(c.GuestLogDir(id), "hypervisor.log")
}

// GuestSerialLog captures the guest serial console.
func (c *Config) GuestSerialLog(id string) string {
	return filepath.Join(c.GuestLogDir(id), "serial.log")
}

// GuestStateDir holds saved memory images for save_state/restore_state.
func (c *Config) GuestStateDir(id string) string {
	return filepath.Join(c.RootDir, "state", id)
}
