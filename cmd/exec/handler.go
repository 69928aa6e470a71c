package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/projecteru2/burrow/checkpoint"
	cmdcore "github.com/projecteru2/burrow/cmd/core"
	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

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

func (h Handler) Exec(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	opts := execOptions(cmd)
	res, err := stack.Gateway.Execute(ctx, args[0], strings.Join(args[1:], " "), opts)
	if err != nil {
		return err
	}
	return printExecResult(res)
}

func (h Handler) Script(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	opts := execOptions(cmd)
	res, err := stack.Gateway.ExecuteScript(ctx, args[0], args[1], opts)
	if err != nil {
		return err
	}
	return printExecResult(res)
}

func (h Handler) Deploy(cmd *cobra.Command, args []string) error {
	ctx, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	content, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[1], err)
	}
	g, err := stack.Gateway.DeployPayload(ctx, args[0], content, args[2])
	if err != nil {
		return err
	}
	log.WithFunc("cmd.deploy").Infof(ctx, "payload deployed to %s at %s", g.ID, g.PayloadPath)
	return nil
}

func (h Handler) Checkpoints(cmd *cobra.Command, args []string) error {
	_, stack, err := h.initStack(cmd)
	if err != nil {
		return err
	}
	defer stack.Close()

	records, err := stack.Gateway.Checkpoints(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func execOptions(cmd *cobra.Command) gateway.Options {
	var opts gateway.Options
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.WorkingDir, _ = cmd.Flags().GetString("workdir")
	if method, _ := cmd.Flags().GetString("method"); method != "" {
		opts.Method = types.ExecMethod(method)
	}
	if observe, _ := cmd.Flags().GetBool("checkpoints"); observe {
		opts.Observer = func(rec checkpoint.Record) {
			fmt.Fprintf(os.Stderr, "checkpoint %s: %v\n", rec.Checkpoint, rec.Params)
		}
	}
	return opts
}

func printExecResult(res *gateway.Result) error {
	if res.Stdout != "" {
		fmt.Fprint(os.Stdout, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("command exited %d (via %s)", res.ExitCode, res.Method)
	}
	return nil
}
