package policy

import (
	"context"
	"testing"

	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/types"
)

func strictConf() config.PolicyConfig {
	return config.PolicyConfig{
		Mode:           ModeStrict,
		MaxMemory:      4 << 30,
		MaxCPU:         8,
		AllowedPaths:   []string{"/var/lib/burrow", "/srv/payloads"},
		BannedCommands: config.DefaultBannedCommands(),
	}
}

func TestValidateResources(t *testing.T) {
	e := New(strictConf(), nil)
	ctx := context.Background()

	cases := []struct {
		name       string
		cfg        types.GuestConfig
		violations int
	}{
		{"within limits", types.GuestConfig{CPU: 4, Memory: 2 << 30}, 0},
		{"at ceiling", types.GuestConfig{CPU: 8, Memory: 4 << 30}, 0},
		{"cpu over", types.GuestConfig{CPU: 9, Memory: 1 << 30}, 1},
		{"memory over", types.GuestConfig{CPU: 1, Memory: 5 << 30}, 1},
		{"both over", types.GuestConfig{CPU: 100, Memory: 100 << 30}, 2},
		{"zero values", types.GuestConfig{}, 2},
	}
	for _, tc := range cases {
		if got := len(e.ValidateResources(ctx, &tc.cfg)); got != tc.violations {
			t.Errorf("%s: violations = %d, want %d", tc.name, got, tc.violations)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	e := New(strictConf(), nil)
	ctx := context.Background()

	if vs := e.ValidateCommand(ctx, "g1", "echo hello"); len(vs) != 0 {
		t.Errorf("benign command rejected: %v", vs)
	}
	if vs := e.ValidateCommand(ctx, "g1", "sudo rm -rf / --no-preserve-root"); len(vs) == 0 {
		t.Error("destructive command accepted")
	}
	if vs := e.ValidateCommand(ctx, "g1", "mkfs.ext4 /dev/vda"); len(vs) == 0 {
		t.Error("mkfs accepted")
	}
}

func TestValidatePath(t *testing.T) {
	e := New(strictConf(), nil)

	cases := []struct {
		path string
		ok   bool
	}{
		{"/var/lib/burrow/disk.img", true},
		{"/var/lib/burrow", true},
		{"/srv/payloads/run.sh", true},
		{"/etc/passwd", false},
		{"/var/lib/burrowevil/x", false},              // sibling prefix trick
		{"/var/lib/burrow/../../../etc/shadow", false}, // traversal
		{"relative/path", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := e.ValidatePath(tc.path); got != tc.ok {
			t.Errorf("ValidatePath(%q) = %v, want %v", tc.path, got, tc.ok)
		}
	}
}

func TestPermissiveModeShortCircuits(t *testing.T) {
	e := New(config.PolicyConfig{Mode: ModePermissive}, nil)
	ctx := context.Background()

	if vs := e.ValidateResources(ctx, &types.GuestConfig{CPU: 10000, Memory: 1 << 60}); len(vs) != 0 {
		t.Errorf("permissive resources: %v", vs)
	}
	if vs := e.ValidateCommand(ctx, "g1", "rm -rf /"); len(vs) != 0 {
		t.Errorf("permissive command: %v", vs)
	}
	if !e.ValidatePath("anything/goes") {
		t.Error("permissive path rejected")
	}
}
