package command

import (
	"context"
	"strings"
	"testing"

	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/lifecycle"
	"github.com/projecteru2/burrow/monitor"
	"github.com/projecteru2/burrow/policy"
	"github.com/projecteru2/burrow/registry"
	"github.com/projecteru2/burrow/types"
)

type fakeDriver struct{}

func (fakeDriver) Type() string                                          { return "fake" }
func (fakeDriver) Launch(context.Context, *types.Guest) (int, error)     { return 4242, nil }
func (fakeDriver) Terminate(context.Context, *types.Guest) error         { return nil }
func (fakeDriver) Pause(context.Context, *types.Guest) error             { return nil }
func (fakeDriver) Resume(context.Context, *types.Guest) error            { return nil }
func (fakeDriver) SaveState(context.Context, *types.Guest, string) error { return nil }
func (fakeDriver) RestoreState(context.Context, *types.Guest, string) (int, error) {
	return 4243, nil
}
func (fakeDriver) ConsolePTY(context.Context, *types.Guest) (string, error) {
	return "/dev/pts/0", nil
}

type fakeChannel struct {
	stdout   string
	exitCode int
}

func (fakeChannel) Method() types.ExecMethod { return types.MethodGuestChannel }

func (f fakeChannel) Run(_ context.Context, _ *types.Guest, req *gateway.Request) (int, error) {
	if f.stdout != "" {
		_, _ = req.Stdout.Write([]byte(f.stdout))
	}
	return f.exitCode, nil
}

func newTestDispatcher(t *testing.T, ch gateway.Channel) *Dispatcher {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.RunDir = t.TempDir()
	conf.LogDir = t.TempDir()

	reg := registry.New(conf.MaxGuests, nil)
	pol := policy.New(conf.Policy, nil)
	gw := gateway.New(conf, reg, pol, ch)
	ctrl := lifecycle.New(conf, reg, fakeDriver{}, pol, nil)
	mon, err := monitor.New(conf, reg, nil)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	t.Cleanup(mon.Release)
	return NewDispatcher(ctrl, gw, mon)
}

func TestDispatchLifecycleScenario(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{stdout: "ok\n"})
	ctx := context.Background()

	res := d.Run(ctx, `create name=web image=ubuntu cpu=2 memory=1G`)
	if !res.Success {
		t.Fatalf("create failed: %s", res.Error)
	}
	if res.Guest == nil || res.Guest.State != types.GuestStateRunning {
		t.Fatalf("create result = %+v", res)
	}
	if res.Guest.Config.Memory != 1<<30 {
		t.Errorf("memory = %d, want 1GiB", res.Guest.Config.Memory)
	}

	// Conditional start on a running guest reports skipped, not failure.
	res = d.Run(ctx, "start_if_stopped guest=web")
	if !res.Success || !res.Skipped {
		t.Errorf("start_if_stopped = %+v", res)
	}

	res = d.Run(ctx, `execute guest=web command="echo ok"`)
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 || res.Stdout != "ok\n" {
		t.Errorf("execute result = %+v", res)
	}

	res = d.Run(ctx, "stop_if_running guest=web")
	if !res.Success || res.Skipped {
		t.Errorf("stop_if_running = %+v", res)
	}
	res = d.Run(ctx, "stop_if_running guest=web")
	if !res.Success || !res.Skipped {
		t.Errorf("repeat stop_if_running = %+v", res)
	}

	res = d.Run(ctx, "describe guest=web")
	if !res.Success || res.Guest == nil || res.Guest.State != types.GuestStateStopped {
		t.Errorf("describe = %+v", res)
	}

	res = d.Run(ctx, "remove guest=web")
	if !res.Success {
		t.Fatalf("remove failed: %s", res.Error)
	}
	res = d.Run(ctx, "describe guest=web")
	if res.Success {
		t.Error("describe succeeded after remove")
	}
}

// The surface accepts cpus= as an alias for cpu= and vm= as a guest
// reference, so request lines written against either vocabulary work.
func TestDispatchAcceptsCpusAndVMKeys(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{stdout: "hi\n"})
	ctx := context.Background()

	res := d.Run(ctx, `create name=v1 image=x memory=2G cpus=2`)
	if !res.Success {
		t.Fatalf("create: %s", res.Error)
	}
	if res.Guest.Config.CPU != 2 {
		t.Errorf("cpu = %d, want 2", res.Guest.Config.CPU)
	}
	if res.Guest.Config.Memory != 2<<30 {
		t.Errorf("memory = %d, want 2GiB", res.Guest.Config.Memory)
	}

	res = d.Run(ctx, `execute vm=v1 command="echo hi"`)
	if !res.Success {
		t.Fatalf("execute: %s", res.Error)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 || res.Stdout != "hi\n" {
		t.Errorf("execute result = %+v", res)
	}

	res = d.Run(ctx, "stop_if_running vm=v1")
	if !res.Success || res.Skipped {
		t.Errorf("stop_if_running = %+v", res)
	}
	if res := d.Run(ctx, "remove name=v1"); !res.Success {
		t.Fatalf("remove: %s", res.Error)
	}
}

func TestDispatchFailuresAreResults(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{})
	ctx := context.Background()

	cases := []struct {
		line string
		want string // substring of the error
	}{
		{"teleport guest=web", "unknown operation"},
		{"start guest=ghost", "not found"},
		{"execute guest=ghost", "missing command"},
		{"create name=x image=y cpu=0 memory=1G", "policy"},
		{`execute cmd="unterminated`, "quote"},
	}
	for _, tc := range cases {
		res := d.Run(ctx, tc.line)
		if res.Success {
			t.Errorf("%q succeeded, want failure", tc.line)
			continue
		}
		if !strings.Contains(strings.ToLower(res.Error), tc.want) {
			t.Errorf("%q error = %q, want substring %q", tc.line, res.Error, tc.want)
		}
	}
}

func TestDispatchNonZeroExitIsUnsuccessful(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{exitCode: 2})
	ctx := context.Background()

	if res := d.Run(ctx, "create name=web image=ubuntu cpu=1 memory=512M"); !res.Success {
		t.Fatalf("create: %s", res.Error)
	}
	res := d.Run(ctx, `execute guest=web command="false"`)
	if res.Success {
		t.Error("non-zero exit reported as success")
	}
	if res.ExitCode == nil || *res.ExitCode != 2 {
		t.Errorf("exit code = %v, want 2", res.ExitCode)
	}
}

func TestDispatchPauseResumeSaveRestore(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{})
	ctx := context.Background()

	if res := d.Run(ctx, "create name=web image=ubuntu cpu=1 memory=512M"); !res.Success {
		t.Fatalf("create: %s", res.Error)
	}

	for _, step := range []struct {
		line string
		want types.GuestState
	}{
		{"pause guest=web", types.GuestStatePaused},
		{"resume guest=web", types.GuestStateRunning},
		{"save_state guest=web", types.GuestStateSaved},
		{"restore_state guest=web", types.GuestStateRunning},
	} {
		res := d.Run(ctx, step.line)
		if !res.Success {
			t.Fatalf("%q failed: %s", step.line, res.Error)
		}
		if res.Guest.State != step.want {
			t.Errorf("%q left state %s, want %s", step.line, res.Guest.State, step.want)
		}
	}
}

func TestDispatchPolicyViolationLeavesNoGuest(t *testing.T) {
	d := newTestDispatcher(t, fakeChannel{})
	ctx := context.Background()

	res := d.Run(ctx, "create name=web image=ubuntu cpu=9999 memory=512M")
	if res.Success {
		t.Fatal("violating create succeeded")
	}
	// The name stays free for a corrected retry.
	if res := d.Run(ctx, "create name=web image=ubuntu cpu=2 memory=512M"); !res.Success {
		t.Fatalf("retry create: %s", res.Error)
	}
}
