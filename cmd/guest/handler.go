package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cmdcore "github.com/projecteru2/burrow/cmd/core"
	"github.com/projecteru2/burrow/console"
	"github.com/projecteru2/burrow/lifecycle"
	"github.com/projecteru2/burrow/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

// initStack is the shared init for all guest subcommands.
func (h Handler) initStack(cmd *cobra.Command) (context.Context, *cmdcore.Stack, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, err
	}
	stack, err := cmdcore.InitStack(ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	return ctx, stack, nil
}

func (h Handler) Create(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	name, _ := cmd.Flags().GetString("name")
	cpu, _ := cmd.Flags().GetInt("cpu")
	memStr, _ := cmd.Flags().GetString("memory")
	memBytes, err := units.RAMInBytes(memStr)
	if err != nil {
		return fmt.Errorf("invalid --memory %q: %w", memStr, err)
	}
	cfg := &types.GuestConfig{
		Name:   name,
		Image:  args[0],
		CPU:    cpu,
		Memory: memBytes,
	}

	opts := lifecycle.CreateOptions{}
	if mode, _ := cmd.Flags().GetString("network"); mode != "" {
		bridge, _ := cmd.Flags().GetString("bridge")
		mac, _ := cmd.Flags().GetString("mac")
		opts.Network = &types.NetworkConfig{Mode: types.NetworkMode(mode), Bridge: bridge, MAC: mac}
	}
	if method, _ := cmd.Flags().GetString("method"); method != "" {
		opts.ExecMethod = types.ExecMethod(method)
	}
	opts.RemoteShell = shellFromFlags(cmd)

	g, err := stack.Controller.Create(ctx, cfg, opts)
	if err != nil {
		return err
	}
	log.WithFunc("cmd.create").Infof(ctx, "guest created: %s (name: %s, state: %s)", g.ID, g.Config.Name, g.State)
	return nil
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	ifStopped, _ := cmd.Flags().GetBool("if-stopped")
	return batchGuestCmd(ctx, "start", args, func(ref string) (skipped bool, err error) {
		if ifStopped {
			_, skipped, err = stack.Controller.StartIfStopped(ctx, ref)
			return skipped, err
		}
		_, err = stack.Controller.Start(ctx, ref)
		return false, err
	})
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	ifRunning, _ := cmd.Flags().GetBool("if-running")
	return batchGuestCmd(ctx, "stop", args, func(ref string) (skipped bool, err error) {
		if ifRunning {
			_, skipped, err = stack.Controller.StopIfRunning(ctx, ref)
			return skipped, err
		}
		_, err = stack.Controller.Stop(ctx, ref)
		return false, err
	})
}

func (h Handler) Restart(cmd *cobra.Command, args []string) error {
	return h.transition(cmd, args[0], "restart", func(ctx context.Context, stack *cmdcore.Stack) (*types.Guest, error) {
		return stack.Controller.Restart(ctx, args[0])
	})
}

func (h Handler) Pause(cmd *cobra.Command, args []string) error {
	return h.transition(cmd, args[0], "pause", func(ctx context.Context, stack *cmdcore.Stack) (*types.Guest, error) {
		return stack.Controller.Pause(ctx, args[0])
	})
}

func (h Handler) Resume(cmd *cobra.Command, args []string) error {
	return h.transition(cmd, args[0], "resume", func(ctx context.Context, stack *cmdcore.Stack) (*types.Guest, error) {
		return stack.Controller.Resume(ctx, args[0])
	})
}

func (h Handler) Save(cmd *cobra.Command, args []string) error {
	return h.transition(cmd, args[0], "save", func(ctx context.Context, stack *cmdcore.Stack) (*types.Guest, error) {
		return stack.Controller.SaveState(ctx, args[0])
	})
}

func (h Handler) Restore(cmd *cobra.Command, args []string) error {
	return h.transition(cmd, args[0], "restore", func(ctx context.Context, stack *cmdcore.Stack) (*types.Guest, error) {
		return stack.Controller.RestoreState(ctx, args[0])
	})
}

func (h Handler) transition(cmd *cobra.Command, ref, name string, fn func(context.Context, *cmdcore.Stack) (*types.Guest, error)) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	g, err := fn(ctx, stack)
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, ref, err)
	}
	log.WithFunc("cmd."+name).Infof(ctx, "guest %s is %s", g.ID, g.State)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	_, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	guests := stack.Controller.List()
	if len(guests) == 0 {
		fmt.Println("No guests found.")
		return nil
	}
	sort.Slice(guests, func(i, j int) bool { return guests[i].CreatedAt.Before(guests[j].CreatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tMETHOD\tCPU\tMEMORY\tIMAGE\tCREATED")
	for _, g := range guests {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			g.ID,
			g.Config.Name,
			g.State,
			g.ExecMethod,
			g.Config.CPU,
			units.BytesSize(float64(g.Config.Memory)),
			g.Config.Image,
			g.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	_, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	g, err := stack.Controller.Describe(args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}

func (h Handler) Console(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	ptyPath, err := stack.Controller.ConsolePTY(ctx, args[0])
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return console.Attach(ctx, args[0], ptyPath)
}

func (h Handler) SetMethod(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	g, err := stack.Controller.SetExecMethod(ctx, args[0], types.ExecMethod(args[1]), shellFromFlags(cmd))
	if err != nil {
		return err
	}
	log.WithFunc("cmd.set-method").Infof(ctx, "guest %s exec method set to %s", g.ID, g.ExecMethod)
	return nil
}

func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	return batchGuestCmd(ctx, "rm", args, func(ref string) (bool, error) {
		g, gerr := stack.Controller.Describe(ref)
		if err := stack.Controller.Remove(ctx, ref); err != nil {
			return false, err
		}
		if gerr == nil {
			stack.Gateway.ForgetGuest(g.ID)
		}
		return false, nil
	})
}

// batchGuestCmd fans one operation out over several guests and joins the
// first error. Per-guest serialization happens inside the controller, so
// concurrent refs are safe.
func batchGuestCmd(ctx context.Context, name string, refs []string, fn func(ref string) (bool, error)) error {
	logger := log.WithFunc("cmd." + name)
	var eg errgroup.Group
	for _, ref := range refs {
		ref := ref
		eg.Go(func() error {
			skipped, err := fn(ref)
			if err != nil {
				return fmt.Errorf("%s %s: %w", name, ref, err)
			}
			if skipped {
				logger.Infof(ctx, "%s %s: skipped, nothing to do", name, ref)
			} else {
				logger.Infof(ctx, "%s %s: done", name, ref)
			}
			return nil
		})
	}
	return eg.Wait()
}

func shellFromFlags(cmd *cobra.Command) *types.RemoteShellConfig {
	host, _ := cmd.Flags().GetString("ssh-host")
	if host == "" {
		return nil
	}
	port, _ := cmd.Flags().GetInt("ssh-port")
	user, _ := cmd.Flags().GetString("ssh-user")
	key, _ := cmd.Flags().GetString("ssh-key")
	return &types.RemoteShellConfig{Host: host, Port: port, User: user, KeyPath: key}
}
