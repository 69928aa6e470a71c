// Package command exposes the text request surface. A request is a single
// line, "operation name=value ...", parsed by Parse and executed by the
// Dispatcher against the lifecycle controller, the execution gateway and the
// health monitor. Every request returns a types.Result; failures are reported
// in the result rather than raised, so callers always get a record.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/lifecycle"
	"github.com/projecteru2/burrow/monitor"
	"github.com/projecteru2/burrow/types"
)

// Dispatcher routes parsed commands to the owning component.
type Dispatcher struct {
	ctrl *lifecycle.Controller
	gw   *gateway.Gateway
	mon  *monitor.Monitor
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(ctrl *lifecycle.Controller, gw *gateway.Gateway, mon *monitor.Monitor) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, gw: gw, mon: mon}
}

// Run parses and executes one request line.
func (d *Dispatcher) Run(ctx context.Context, line string) *types.Result {
	cmd, err := Parse(line)
	if err != nil {
		return fail("", err)
	}
	return d.Dispatch(ctx, cmd)
}

// Dispatch executes a parsed command.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) *types.Result {
	op := cmd.Operation
	switch op {
	case "create":
		return d.create(ctx, cmd)
	case "start":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.Start(ctx, ref) })
	case "stop":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.Stop(ctx, ref) })
	case "restart":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.Restart(ctx, ref) })
	case "pause":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.Pause(ctx, ref) })
	case "resume":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.Resume(ctx, ref) })
	case "save_state":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.SaveState(ctx, ref) })
	case "restore_state":
		return d.transition(op, cmd, func(ref string) (*types.Guest, error) { return d.ctrl.RestoreState(ctx, ref) })
	case "start_if_stopped":
		return d.conditional(op, cmd, func(ref string) (*types.Guest, bool, error) { return d.ctrl.StartIfStopped(ctx, ref) })
	case "stop_if_running":
		return d.conditional(op, cmd, func(ref string) (*types.Guest, bool, error) { return d.ctrl.StopIfRunning(ctx, ref) })
	case "remove":
		return d.remove(ctx, cmd)
	case "describe":
		return d.describe(cmd)
	case "list":
		return d.list()
	case "set_exec_method":
		return d.setExecMethod(ctx, cmd)
	case "execute":
		return d.execute(ctx, cmd)
	case "execute_script":
		return d.executeScript(ctx, cmd)
	case "deploy_payload":
		return d.deployPayload(ctx, cmd)
	case "checkpoints":
		return d.checkpoints(cmd)
	case "monitor_start":
		d.mon.Start(context.WithoutCancel(ctx))
		return ok(op, "health monitor started")
	case "monitor_stop":
		d.mon.Stop()
		return ok(op, "health monitor stopped")
	default:
		return fail(op, fmt.Errorf("unknown operation %q", op))
	}
}

func (d *Dispatcher) create(ctx context.Context, cmd *Command) *types.Result {
	cfg := &types.GuestConfig{Name: cmd.Args["name"], Image: cmd.Args["image"]}
	for _, key := range []string{"cpu", "cpus"} {
		v, has := cmd.Get(key)
		if !has {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fail("create", fmt.Errorf("%s %q: %w", key, v, err))
		}
		cfg.CPU = n
		break
	}
	if v, has := cmd.Get("memory"); has {
		mem, err := units.RAMInBytes(v)
		if err != nil {
			return fail("create", fmt.Errorf("memory %q: %w", v, err))
		}
		cfg.Memory = mem
	}

	opts := lifecycle.CreateOptions{ID: cmd.Args["id"]}
	if v, has := cmd.Get("method"); has {
		opts.ExecMethod = types.ExecMethod(v)
	}
	if v, has := cmd.Get("network"); has {
		opts.Network = &types.NetworkConfig{
			Mode:   types.NetworkMode(v),
			Bridge: cmd.Args["bridge"],
			Tap:    cmd.Args["tap"],
			MAC:    cmd.Args["mac"],
		}
	}
	if shell, err := shellFromArgs(cmd); err != nil {
		return fail("create", err)
	} else if shell != nil {
		opts.RemoteShell = shell
	}

	g, err := d.ctrl.Create(ctx, cfg, opts)
	if err != nil {
		return fail("create", err)
	}
	r := ok("create", fmt.Sprintf("guest %s created and running", g.ID))
	r.Guest = g
	return r
}

func (d *Dispatcher) transition(op string, cmd *Command, fn func(ref string) (*types.Guest, error)) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail(op, err)
	}
	g, err := fn(ref)
	if err != nil {
		return fail(op, err)
	}
	r := ok(op, fmt.Sprintf("guest %s is %s", g.ID, g.State))
	r.Guest = g
	return r
}

func (d *Dispatcher) conditional(op string, cmd *Command, fn func(ref string) (*types.Guest, bool, error)) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail(op, err)
	}
	g, skipped, err := fn(ref)
	if err != nil {
		return fail(op, err)
	}
	r := ok(op, fmt.Sprintf("guest %s is %s", g.ID, g.State))
	r.Skipped = skipped
	r.Guest = g
	return r
}

func (d *Dispatcher) remove(ctx context.Context, cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("remove", err)
	}
	g, gerr := d.ctrl.Describe(ref)
	if err := d.ctrl.Remove(ctx, ref); err != nil {
		return fail("remove", err)
	}
	if gerr == nil {
		d.gw.ForgetGuest(g.ID)
	}
	return ok("remove", fmt.Sprintf("guest %s removed", ref))
}

func (d *Dispatcher) describe(cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("describe", err)
	}
	g, err := d.ctrl.Describe(ref)
	if err != nil {
		return fail("describe", err)
	}
	r := ok("describe", fmt.Sprintf("guest %s is %s", g.ID, g.State))
	r.Guest = &g
	return r
}

func (d *Dispatcher) list() *types.Result {
	guests := d.ctrl.List()
	lines := make([]string, 0, len(guests))
	for _, g := range guests {
		name := g.Config.Name
		if name == "" {
			name = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", g.ID, name, g.State))
	}
	return ok("list", strings.Join(lines, "\n"))
}

func (d *Dispatcher) setExecMethod(ctx context.Context, cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("set_exec_method", err)
	}
	method, has := cmd.Get("method")
	if !has {
		return fail("set_exec_method", fmt.Errorf("missing method argument"))
	}
	shell, err := shellFromArgs(cmd)
	if err != nil {
		return fail("set_exec_method", err)
	}
	g, err := d.ctrl.SetExecMethod(ctx, ref, types.ExecMethod(method), shell)
	if err != nil {
		return fail("set_exec_method", err)
	}
	r := ok("set_exec_method", fmt.Sprintf("guest %s exec method set to %s", g.ID, g.ExecMethod))
	r.Guest = g
	return r
}

func (d *Dispatcher) execute(ctx context.Context, cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("execute", err)
	}
	text, has := cmd.Get("command")
	if !has {
		return fail("execute", fmt.Errorf("missing command argument"))
	}
	opts, err := execOptions(cmd)
	if err != nil {
		return fail("execute", err)
	}
	res, err := d.gw.Execute(ctx, ref, text, opts)
	if err != nil {
		return fail("execute", err)
	}
	return execResult("execute", res)
}

func (d *Dispatcher) executeScript(ctx context.Context, cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("execute_script", err)
	}
	script, has := cmd.Get("script")
	if !has {
		return fail("execute_script", fmt.Errorf("missing script argument"))
	}
	opts, err := execOptions(cmd)
	if err != nil {
		return fail("execute_script", err)
	}
	res, err := d.gw.ExecuteScript(ctx, ref, script, opts)
	if err != nil {
		return fail("execute_script", err)
	}
	return execResult("execute_script", res)
}

func (d *Dispatcher) deployPayload(ctx context.Context, cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("deploy_payload", err)
	}
	source, has := cmd.Get("source")
	if !has {
		return fail("deploy_payload", fmt.Errorf("missing source argument"))
	}
	remote, has := cmd.Get("path")
	if !has {
		return fail("deploy_payload", fmt.Errorf("missing path argument"))
	}
	content, err := os.ReadFile(source)
	if err != nil {
		return fail("deploy_payload", fmt.Errorf("read %s: %w", source, err))
	}
	g, err := d.gw.DeployPayload(ctx, ref, content, remote)
	if err != nil {
		return fail("deploy_payload", err)
	}
	r := ok("deploy_payload", fmt.Sprintf("payload deployed to %s at %s", g.ID, g.PayloadPath))
	r.Guest = g
	return r
}

func (d *Dispatcher) checkpoints(cmd *Command) *types.Result {
	ref, err := refArg(cmd)
	if err != nil {
		return fail("checkpoints", err)
	}
	records, err := d.gw.Checkpoints(ref)
	if err != nil {
		return fail("checkpoints", err)
	}
	out, err := json.Marshal(records)
	if err != nil {
		return fail("checkpoints", err)
	}
	return ok("checkpoints", string(out))
}

func execOptions(cmd *Command) (gateway.Options, error) {
	var opts gateway.Options
	if v, has := cmd.Get("timeout"); has {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("timeout %q: %w", v, err)
		}
		opts.Timeout = d
	}
	if v, has := cmd.Get("workdir"); has {
		opts.WorkingDir = v
	}
	if v, has := cmd.Get("method"); has {
		opts.Method = types.ExecMethod(v)
	}
	return opts, nil
}

func execResult(op string, res *gateway.Result) *types.Result {
	r := ok(op, fmt.Sprintf("exit %d via %s in %s", res.ExitCode, res.Method, res.Duration.Round(time.Millisecond)))
	code := res.ExitCode
	r.ExitCode = &code
	r.Stdout = res.Stdout
	r.Stderr = res.Stderr
	r.Success = res.ExitCode == 0
	return r
}

func shellFromArgs(cmd *Command) (*types.RemoteShellConfig, error) {
	host, has := cmd.Get("ssh_host")
	if !has {
		return nil, nil
	}
	shell := &types.RemoteShellConfig{
		Host:    host,
		User:    cmd.Args["ssh_user"],
		KeyPath: cmd.Args["ssh_key"],
	}
	if v, has := cmd.Get("ssh_port"); has {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("ssh_port %q: %w", v, err)
		}
		shell.Port = port
	}
	return shell, nil
}

func refArg(cmd *Command) (string, error) {
	for _, key := range []string{"guest", "vm", "id", "name"} {
		if v, has := cmd.Get(key); has && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("missing guest reference (guest=, vm=, id= or name=)")
}

func ok(op, output string) *types.Result {
	return &types.Result{Success: true, Operation: op, Output: output}
}

func fail(op string, err error) *types.Result {
	return &types.Result{Success: false, Operation: op, Error: err.Error()}
}
