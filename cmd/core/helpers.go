// Package core holds the shared plumbing for command handlers: config
// access, context propagation and one-call construction of the full
// component stack.
package core

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/projecteru2/burrow/audit"
	"github.com/projecteru2/burrow/command"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/gateway"
	chanconsole "github.com/projecteru2/burrow/gateway/console"
	"github.com/projecteru2/burrow/gateway/guestchannel"
	"github.com/projecteru2/burrow/gateway/remoteshell"
	"github.com/projecteru2/burrow/hypervisor"
	"github.com/projecteru2/burrow/hypervisor/cloudhypervisor"
	"github.com/projecteru2/burrow/lifecycle"
	"github.com/projecteru2/burrow/monitor"
	"github.com/projecteru2/burrow/policy"
	"github.com/projecteru2/burrow/registry"
	storagejson "github.com/projecteru2/burrow/storage/json"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// Stack is the fully wired component graph behind every command.
type Stack struct {
	Conf       *config.Config
	Registry   *registry.Registry
	Driver     hypervisor.Driver
	Policy     *policy.Evaluator
	Audit      *audit.Sink
	Gateway    *gateway.Gateway
	Controller *lifecycle.Controller
	Monitor    *monitor.Monitor
	Dispatcher *command.Dispatcher
}

// InitStack builds the component graph: persistent registry, policy
// evaluator, cloud-hypervisor driver, execution gateway with all three
// channels, lifecycle controller and health monitor.
func InitStack(ctx context.Context, conf *config.Config) (*Stack, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}

	store := storagejson.New[registry.Index](conf.IndexLock(), conf.IndexFile())
	reg := registry.New(conf.MaxGuests, store)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load guest index: %w", err)
	}

	sink := audit.NewSink(conf.AuditLog(), conf.AuditLock())
	pol := policy.New(conf.Policy, sink)
	driver := cloudhypervisor.New(conf)

	gw := gateway.New(conf, reg, pol,
		guestchannel.New(conf),
		remoteshell.New(),
		chanconsole.New(),
	)
	ctrl := lifecycle.New(conf, reg, driver, pol, sink)

	mon, err := monitor.New(conf, reg, sink)
	if err != nil {
		return nil, fmt.Errorf("init monitor: %w", err)
	}

	return &Stack{
		Conf:       conf,
		Registry:   reg,
		Driver:     driver,
		Policy:     pol,
		Audit:      sink,
		Gateway:    gw,
		Controller: ctrl,
		Monitor:    mon,
		Dispatcher: command.NewDispatcher(ctrl, gw, mon),
	}, nil
}

// Close releases background resources. Safe to call once per stack.
func (s *Stack) Close() {
	s.Monitor.Release()
}
