package exec

import "github.com/spf13/cobra"

// Actions defines in-guest execution operations.
type Actions interface {
	Exec(cmd *cobra.Command, args []string) error
	Script(cmd *cobra.Command, args []string) error
	Deploy(cmd *cobra.Command, args []string) error
	Checkpoints(cmd *cobra.Command, args []string) error
}

// Commands builds the execution command set.
func Commands(h Actions) []*cobra.Command {
	execCmd := &cobra.Command{
		Use:   "exec GUEST COMMAND",
		Short: "Run a command inside a guest",
		Args:  cobra.MinimumNArgs(2),
		RunE:  h.Exec,
	}
	addExecFlags(execCmd)

	scriptCmd := &cobra.Command{
		Use:   "script GUEST SCRIPT_PATH",
		Short: "Run an in-guest script through the deployed payload runtime",
		Args:  cobra.ExactArgs(2),
		RunE:  h.Script,
	}
	addExecFlags(scriptCmd)

	deployCmd := &cobra.Command{
		Use:   "deploy GUEST LOCAL_FILE REMOTE_PATH",
		Short: "Push an executable payload into a guest over the guest channel",
		Args:  cobra.ExactArgs(3),
		RunE:  h.Deploy,
	}

	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints GUEST",
		Short: "Show the guest's recent checkpoint records (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Checkpoints,
	}

	return []*cobra.Command{execCmd, scriptCmd, deployCmd, checkpointsCmd}
}

func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "execution timeout (default from config)")
	cmd.Flags().String("workdir", "", "in-guest working directory")
	cmd.Flags().String("method", "", "force a channel and disable fallback")
	cmd.Flags().Bool("checkpoints", false, "print checkpoint markers as they arrive")
}
