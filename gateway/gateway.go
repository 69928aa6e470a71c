// Package gateway is the single execution surface for running commands inside
// guests. It selects among the channel clients, falls back from the guest
// channel to the remote shell when the channel itself is unavailable, enforces
// the running-state and policy guards at the boundary, and wires command
// output through the checkpoint parser when progress observation is requested.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/burrow/checkpoint"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/policy"
	"github.com/projecteru2/burrow/registry"
	"github.com/projecteru2/burrow/types"
)

// Request is what a channel client receives: the command and the output
// sinks. Channels stream into the writers as output becomes available.
type Request struct {
	Command    string
	WorkingDir string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Channel runs one command inside a guest over a specific transport.
// A non-zero guest exit code is a normal result, NOT an error; errors mean
// the transport or host side failed.
type Channel interface {
	Method() types.ExecMethod
	Run(ctx context.Context, g *types.Guest, req *Request) (exitCode int, err error)
}

// Options tunes one execution.
type Options struct {
	// Timeout bounds the whole execution; the default comes from config.
	Timeout time.Duration
	// WorkingDir is the in-guest working directory.
	WorkingDir string
	// Method forces a specific channel and disables fallback. Empty means
	// the guest's configured preference with automatic fallback.
	Method types.ExecMethod
	// Observer receives checkpoint records while the command runs.
	Observer checkpoint.Observer
}

// Result is the normalized execution outcome.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Method   types.ExecMethod
}

// Gateway dispatches executions to channel clients.
type Gateway struct {
	conf     *config.Config
	registry *registry.Registry
	policy   *policy.Evaluator
	channels map[types.ExecMethod]Channel

	mu   sync.Mutex
	logs map[string]*checkpoint.Log // per-guest rolling checkpoint logs
}

// New creates a Gateway over the given channel clients.
func New(conf *config.Config, reg *registry.Registry, pol *policy.Evaluator, channels ...Channel) *Gateway {
	m := make(map[types.ExecMethod]Channel, len(channels))
	for _, c := range channels {
		m[c.Method()] = c
	}
	return &Gateway{
		conf:     conf,
		registry: reg,
		policy:   pol,
		channels: m,
		logs:     make(map[string]*checkpoint.Log),
	}
}

// Execute runs command inside the guest referenced by ref.
func (gw *Gateway) Execute(ctx context.Context, ref, command string, opts Options) (*Result, error) {
	id, err := gw.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	// Serialize against lifecycle transitions on the same guest.
	unlock := gw.registry.LockGuest(id)
	defer unlock()

	g, err := gw.registry.Get(id)
	if err != nil {
		return nil, err
	}
	// Boundary guard: never hand a non-running guest to a channel.
	if g.State != types.GuestStateRunning {
		return nil, fmt.Errorf("guest %s is %s, not running: %w", id, g.State, errdefs.ErrInvalidState)
	}
	// Policy short-circuits before any channel client is invoked.
	if vs := gw.policy.ValidateCommand(ctx, id, command); len(vs) > 0 {
		return nil, fmt.Errorf("%s: %w", policy.Join(vs), errdefs.ErrPolicyViolation)
	}
	return gw.run(ctx, &g, command, opts)
}

// ExecuteScript runs a script through the deployed in-guest payload runtime.
// Fails fast when no payload has been deployed to the guest.
func (gw *Gateway) ExecuteScript(ctx context.Context, ref, scriptPath string, opts Options) (*Result, error) {
	g, err := gw.registry.Get(ref)
	if err != nil {
		return nil, err
	}
	if !g.PayloadDeployed {
		return nil, fmt.Errorf("guest %s has no payload deployed: %w", g.ID, errdefs.ErrInvalidState)
	}
	return gw.Execute(ctx, ref, g.PayloadPath+" "+scriptPath, opts)
}

// FileCopier is implemented by channels that can push file content into the
// guest. Only the guest channel supports this today.
type FileCopier interface {
	CopyTo(ctx context.Context, g *types.Guest, remotePath string, content []byte) error
}

// DeployPayload pushes an executable payload into the guest over the guest
// channel, marks it runnable and records its path. ExecuteScript requires a
// prior successful deploy.
func (gw *Gateway) DeployPayload(ctx context.Context, ref string, content []byte, remotePath string) (*types.Guest, error) {
	id, err := gw.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	unlock := gw.registry.LockGuest(id)
	defer unlock()

	g, err := gw.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if g.State != types.GuestStateRunning {
		return nil, fmt.Errorf("guest %s is %s, not running: %w", id, g.State, errdefs.ErrInvalidState)
	}
	if !gw.policy.ValidatePath(remotePath) {
		return nil, fmt.Errorf("path %s not allowed: %w", remotePath, errdefs.ErrPolicyViolation)
	}

	copier, ok := gw.channels[types.MethodGuestChannel].(FileCopier)
	if !ok {
		return nil, fmt.Errorf("payload deploy needs the guest channel: %w", errdefs.ErrChannelUnavailable)
	}
	if err := copier.CopyTo(ctx, &g, remotePath, content); err != nil {
		return nil, fmt.Errorf("deploy payload to %s: %w", id, err)
	}
	if _, err := gw.run(ctx, &g, fmt.Sprintf("chmod +x %q", remotePath), Options{Method: types.MethodGuestChannel}); err != nil {
		return nil, fmt.Errorf("mark payload executable: %w", err)
	}

	updated, err := gw.registry.Update(ctx, id, func(cur *types.Guest) error {
		cur.PayloadDeployed = true
		cur.PayloadPath = remotePath
		cur.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFunc("gateway.DeployPayload").Infof(ctx, "payload deployed to %s at %s", id, remotePath)
	return &updated, nil
}

// Checkpoints returns the rolling checkpoint log for a guest.
func (gw *Gateway) Checkpoints(ref string) ([]checkpoint.Record, error) {
	id, err := gw.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	gw.mu.Lock()
	l := gw.logs[id]
	gw.mu.Unlock()
	if l == nil {
		return nil, nil
	}
	return l.Records(), nil
}

func (gw *Gateway) run(ctx context.Context, g *types.Guest, command string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(gw.conf.ExecTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	req := &Request{
		Command:    command,
		WorkingDir: opts.WorkingDir,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	// Markers are consumed and logged whether or not anyone is observing.
	parser := checkpoint.NewParser(&stdout, opts.Observer, gw.logFor(g.ID))
	req.Stdout = parser

	start := time.Now()
	method, exitCode, err := gw.dispatch(ctx, g, req, opts.Method)
	_ = parser.Flush()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution exceeded %s: %w", timeout, errdefs.ErrTimeout)
		}
		return nil, err
	}

	// First successful guest-channel round trip proves the agent; sticky
	// until remove.
	if method == types.MethodGuestChannel && !g.AgentInstalled {
		if _, uerr := gw.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
			cur.AgentInstalled = true
			return nil
		}); uerr != nil {
			log.WithFunc("gateway.run").Warnf(ctx, "mark agent installed %s: %v", g.ID, uerr)
		}
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Method:   method,
	}, nil
}

// dispatch picks the channel and applies the fallback rule: an explicit
// method never falls back; the guest-channel preference falls back once to
// remote-shell only on ChannelUnavailable (a timeout of a working channel
// means the command is slow, not the channel).
func (gw *Gateway) dispatch(ctx context.Context, g *types.Guest, req *Request, explicit types.ExecMethod) (types.ExecMethod, int, error) {
	if explicit != "" {
		c, ok := gw.channels[explicit]
		if !ok {
			return explicit, 0, fmt.Errorf("unknown exec method %q", explicit)
		}
		code, err := c.Run(ctx, g, req)
		return explicit, code, err
	}

	method := g.ExecMethod
	if method == "" {
		method = types.MethodGuestChannel
	}
	c, ok := gw.channels[method]
	if !ok {
		return method, 0, fmt.Errorf("unknown exec method %q", method)
	}
	code, err := c.Run(ctx, g, req)
	if err == nil {
		return method, code, nil
	}

	if method == types.MethodGuestChannel && errors.Is(err, errdefs.ErrChannelUnavailable) && g.RemoteShell != nil {
		shell, ok := gw.channels[types.MethodRemoteShell]
		if ok {
			log.WithFunc("gateway.dispatch").Warnf(ctx, "guest channel unavailable for %s, falling back to remote shell: %v", g.ID, err)
			code, err = shell.Run(ctx, g, req)
			return types.MethodRemoteShell, code, err
		}
	}
	return method, code, err
}

func (gw *Gateway) logFor(id string) *checkpoint.Log {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	l := gw.logs[id]
	if l == nil {
		l = checkpoint.NewLog(checkpoint.DefaultLogSize)
		gw.logs[id] = l
	}
	return l
}

// ForgetGuest drops the per-guest checkpoint log. Called on remove.
func (gw *Gateway) ForgetGuest(id string) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	delete(gw.logs, id)
}
