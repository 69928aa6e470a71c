package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/projecteru2/burrow/checkpoint"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/policy"
	"github.com/projecteru2/burrow/registry"
	"github.com/projecteru2/burrow/types"
)

// fakeChannel scripts one channel's behavior and records invocations.
type fakeChannel struct {
	method   types.ExecMethod
	exitCode int
	err      error
	stdout   string
	calls    int
	// block makes Run wait for ctx cancellation, simulating a hung command.
	block bool
	// ctxSeen captures whether Run observed cancellation before returning.
	ctxSeen bool
}

func (f *fakeChannel) Method() types.ExecMethod { return f.method }

func (f *fakeChannel) Run(ctx context.Context, _ *types.Guest, req *Request) (int, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		f.ctxSeen = true
		return 0, ctx.Err()
	}
	if f.err != nil {
		return 0, f.err
	}
	if f.stdout != "" {
		_, _ = io.WriteString(req.Stdout, f.stdout)
	}
	return f.exitCode, nil
}

func testConf() *config.Config {
	conf := config.DefaultConfig()
	conf.ExecTimeoutSeconds = 2
	return conf
}

func newTestGateway(t *testing.T, g *types.Guest, channels ...Channel) (*Gateway, *registry.Registry) {
	t.Helper()
	conf := testConf()
	reg := registry.New(0, nil)
	if g != nil {
		if err := reg.Insert(context.Background(), g); err != nil {
			t.Fatalf("insert guest: %v", err)
		}
	}
	pol := policy.New(conf.Policy, nil)
	return New(conf, reg, pol, channels...), reg
}

func runningGuest(id string) *types.Guest {
	return &types.Guest{
		ID:         id,
		State:      types.GuestStateRunning,
		Config:     types.GuestConfig{Name: "g-" + id, CPU: 1, Memory: 1 << 30},
		ExecMethod: types.MethodGuestChannel,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	g := runningGuest("id1")
	agent := &fakeChannel{method: types.MethodGuestChannel, stdout: "hello\n"}
	gw, reg := newTestGateway(t, g, agent)

	res, err := gw.Execute(context.Background(), "id1", "echo hello", Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello\n" || res.Method != types.MethodGuestChannel {
		t.Errorf("result = %+v", res)
	}

	// First successful round trip marks the agent installed.
	stored, err := reg.Get("id1")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.AgentInstalled {
		t.Error("AgentInstalled not set after guest-channel success")
	}
}

func TestExecuteFallsBackOnChannelUnavailable(t *testing.T) {
	g := runningGuest("id1")
	g.RemoteShell = &types.RemoteShellConfig{Host: "10.0.0.5", User: "root"}
	agent := &fakeChannel{
		method: types.MethodGuestChannel,
		err:    fmt.Errorf("dial agent: %w", errdefs.ErrChannelUnavailable),
	}
	shell := &fakeChannel{method: types.MethodRemoteShell, exitCode: 7}
	gw, _ := newTestGateway(t, g, agent, shell)

	res, err := gw.Execute(context.Background(), "id1", "true", Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Method != types.MethodRemoteShell {
		t.Errorf("method = %s, want remote-shell", res.Method)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
	if agent.calls != 1 || shell.calls != 1 {
		t.Errorf("calls agent=%d shell=%d, want 1 each", agent.calls, shell.calls)
	}
}

func TestExecuteNoFallbackWithoutRemoteShellConfig(t *testing.T) {
	g := runningGuest("id1") // RemoteShell nil
	agent := &fakeChannel{
		method: types.MethodGuestChannel,
		err:    fmt.Errorf("dial agent: %w", errdefs.ErrChannelUnavailable),
	}
	shell := &fakeChannel{method: types.MethodRemoteShell}
	gw, _ := newTestGateway(t, g, agent, shell)

	_, err := gw.Execute(context.Background(), "id1", "true", Options{})
	if !errors.Is(err, errdefs.ErrChannelUnavailable) {
		t.Fatalf("got %v, want ErrChannelUnavailable", err)
	}
	if shell.calls != 0 {
		t.Error("remote shell invoked despite missing config")
	}
}

func TestExecuteExplicitMethodNeverFallsBack(t *testing.T) {
	g := runningGuest("id1")
	g.RemoteShell = &types.RemoteShellConfig{Host: "10.0.0.5"}
	agent := &fakeChannel{
		method: types.MethodGuestChannel,
		err:    fmt.Errorf("dial agent: %w", errdefs.ErrChannelUnavailable),
	}
	shell := &fakeChannel{method: types.MethodRemoteShell}
	gw, _ := newTestGateway(t, g, agent, shell)

	_, err := gw.Execute(context.Background(), "id1", "true", Options{Method: types.MethodGuestChannel})
	if !errors.Is(err, errdefs.ErrChannelUnavailable) {
		t.Fatalf("got %v, want ErrChannelUnavailable", err)
	}
	if shell.calls != 0 {
		t.Error("explicit method fell back")
	}
}

func TestExecuteNoFallbackOnTransportFailure(t *testing.T) {
	// A transport failure means the channel reached the guest; retrying over
	// SSH could run the command twice.
	g := runningGuest("id1")
	g.RemoteShell = &types.RemoteShellConfig{Host: "10.0.0.5"}
	agent := &fakeChannel{
		method: types.MethodGuestChannel,
		err:    fmt.Errorf("agent refused: %w", errdefs.ErrTransportFailure),
	}
	shell := &fakeChannel{method: types.MethodRemoteShell}
	gw, _ := newTestGateway(t, g, agent, shell)

	_, err := gw.Execute(context.Background(), "id1", "true", Options{})
	if !errors.Is(err, errdefs.ErrTransportFailure) {
		t.Fatalf("got %v, want ErrTransportFailure", err)
	}
	if shell.calls != 0 {
		t.Error("fell back on transport failure")
	}
}

func TestExecuteRejectsNonRunningGuest(t *testing.T) {
	g := runningGuest("id1")
	g.State = types.GuestStateStopped
	agent := &fakeChannel{method: types.MethodGuestChannel}
	gw, _ := newTestGateway(t, g, agent)

	_, err := gw.Execute(context.Background(), "id1", "true", Options{})
	if !errors.Is(err, errdefs.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
	if agent.calls != 0 {
		t.Error("channel invoked for non-running guest")
	}
}

func TestExecuteBannedCommandShortCircuits(t *testing.T) {
	g := runningGuest("id1")
	agent := &fakeChannel{method: types.MethodGuestChannel}
	gw, _ := newTestGateway(t, g, agent)

	_, err := gw.Execute(context.Background(), "id1", "rm -rf / --yes", Options{})
	if !errors.Is(err, errdefs.ErrPolicyViolation) {
		t.Fatalf("got %v, want ErrPolicyViolation", err)
	}
	if agent.calls != 0 {
		t.Error("channel invoked for banned command")
	}
}

func TestExecuteTimeout(t *testing.T) {
	g := runningGuest("id1")
	agent := &fakeChannel{method: types.MethodGuestChannel, block: true}
	gw, _ := newTestGateway(t, g, agent)

	start := time.Now()
	_, err := gw.Execute(context.Background(), "id1", "sleep 600", Options{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, errdefs.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	// Teardown overhead past the deadline stays under 200ms.
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("timeout took %s, want under 250ms", elapsed)
	}
	// The channel saw the cancellation, so the remote process was reaped.
	if !agent.ctxSeen {
		t.Error("channel never observed cancellation")
	}
}

func TestExecuteUnknownGuest(t *testing.T) {
	gw, _ := newTestGateway(t, nil, &fakeChannel{method: types.MethodGuestChannel})
	_, err := gw.Execute(context.Background(), "ghost", "true", Options{})
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestExecuteObserverReceivesCheckpoints(t *testing.T) {
	g := runningGuest("id1")
	agent := &fakeChannel{
		method: types.MethodGuestChannel,
		stdout: "phase one\nCHECKPOINT halfway {\"pct\": 50}\nphase two\n",
	}
	gw, _ := newTestGateway(t, g, agent)

	var seen []checkpoint.Record
	res, err := gw.Execute(context.Background(), "id1", "run", Options{
		Observer: func(r checkpoint.Record) { seen = append(seen, r) },
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(seen) != 1 || seen[0].Checkpoint != "halfway" {
		t.Fatalf("records = %+v", seen)
	}
	if strings.Contains(res.Stdout, "CHECKPOINT") {
		t.Errorf("marker leaked into stdout: %q", res.Stdout)
	}

	// The rolling log is queryable afterwards.
	recs, err := gw.Checkpoints("id1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Checkpoint != "halfway" {
		t.Errorf("log records = %+v", recs)
	}
}

func TestExecuteScriptRequiresDeployedPayload(t *testing.T) {
	g := runningGuest("id1")
	gw, _ := newTestGateway(t, g, &fakeChannel{method: types.MethodGuestChannel})

	_, err := gw.ExecuteScript(context.Background(), "id1", "/opt/job.sh", Options{})
	if !errors.Is(err, errdefs.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestExecuteConsoleExplicitOnly(t *testing.T) {
	g := runningGuest("id1")
	consoleStub := &fakeChannel{
		method: types.MethodConsole,
		err:    fmt.Errorf("console channel: %w", errdefs.ErrNotImplemented),
	}
	gw, _ := newTestGateway(t, g, &fakeChannel{method: types.MethodGuestChannel}, consoleStub)

	_, err := gw.Execute(context.Background(), "id1", "true", Options{Method: types.MethodConsole})
	if !errors.Is(err, errdefs.ErrNotImplemented) {
		t.Fatalf("got %v, want ErrNotImplemented", err)
	}

	// Never selected implicitly.
	res, err := gw.Execute(context.Background(), "id1", "true", Options{})
	if err != nil {
		t.Fatalf("implicit execute: %v", err)
	}
	if res.Method == types.MethodConsole {
		t.Error("console selected implicitly")
	}
	if consoleStub.calls != 1 {
		t.Errorf("console calls = %d, want 1 (explicit only)", consoleStub.calls)
	}
}
