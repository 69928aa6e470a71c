package others

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/burrow/cmd/core"
	"github.com/projecteru2/burrow/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

// Request runs one request line through the text command surface and prints
// the normalized result record as JSON.
func (h Handler) Request(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(ctx, conf)
	if err != nil {
		return err
	}
	defer stack.Close()

	res := stack.Dispatcher.Run(ctx, args[0])
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed: %s", res.Operation, res.Error)
	}
	return nil
}

// Monitor runs the reconciliation loop until interrupted.
func (h Handler) Monitor(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	stack, err := cmdcore.InitStack(ctx, conf)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.Monitor.Start(ctx)
	log.WithFunc("cmd.monitor").Infof(ctx, "monitoring %d guests, ctrl-c to stop", stack.Registry.Len())
	<-ctx.Done()
	stack.Monitor.Stop()
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
