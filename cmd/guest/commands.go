package guest

import "github.com/spf13/cobra"

// Actions defines guest lifecycle operations.
type Actions interface {
	Create(cmd *cobra.Command, args []string) error
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	Restart(cmd *cobra.Command, args []string) error
	Pause(cmd *cobra.Command, args []string) error
	Resume(cmd *cobra.Command, args []string) error
	Save(cmd *cobra.Command, args []string) error
	Restore(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	Console(cmd *cobra.Command, args []string) error
	SetMethod(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
}

// Command builds the "guest" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	guestCmd := &cobra.Command{
		Use:   "guest",
		Short: "Manage guests",
	}

	createCmd := &cobra.Command{
		Use:   "create [flags] IMAGE",
		Short: "Create and boot a guest from an image",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Create,
	}
	addGuestFlags(createCmd)

	startCmd := &cobra.Command{
		Use:   "start GUEST [GUEST...]",
		Short: "Start created/stopped guest(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Start,
	}
	startCmd.Flags().Bool("if-stopped", false, "skip guests that are already running")

	stopCmd := &cobra.Command{
		Use:   "stop GUEST [GUEST...]",
		Short: "Stop running guest(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Stop,
	}
	stopCmd.Flags().Bool("if-running", false, "skip guests that are not running")

	restartCmd := &cobra.Command{
		Use:   "restart GUEST",
		Short: "Stop and relaunch a running guest",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Restart,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause GUEST",
		Short: "Freeze a running guest's vCPUs",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Pause,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume GUEST",
		Short: "Thaw a paused guest",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Resume,
	}

	saveCmd := &cobra.Command{
		Use:   "save GUEST",
		Short: "Snapshot a running guest's memory to disk and stop it",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Save,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore GUEST",
		Short: "Resume a saved guest from its memory image",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Restore,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List guests with status",
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect GUEST",
		Short: "Show detailed guest info (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	consoleCmd := &cobra.Command{
		Use:   "console GUEST",
		Short: "Attach interactive console to a running guest",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Console,
	}

	setMethodCmd := &cobra.Command{
		Use:   "set-method GUEST METHOD",
		Short: "Set the execution channel (guest-channel, remote-shell, console)",
		Args:  cobra.ExactArgs(2),
		RunE:  h.SetMethod,
	}
	addShellFlags(setMethodCmd)

	rmCmd := &cobra.Command{
		Use:   "rm GUEST [GUEST...]",
		Short: "Delete guest(s), stopping them first if needed",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}

	guestCmd.AddCommand(
		createCmd,
		startCmd,
		stopCmd,
		restartCmd,
		pauseCmd,
		resumeCmd,
		saveCmd,
		restoreCmd,
		listCmd,
		inspectCmd,
		consoleCmd,
		setMethodCmd,
		rmCmd,
	)
	return guestCmd
}

func addGuestFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "guest name")
	cmd.Flags().Int("cpu", 2, "vCPUs")                //nolint:mnd
	cmd.Flags().String("memory", "1G", "memory size") //nolint:mnd
	cmd.Flags().String("network", "", "network mode (user, tap, bridge)")
	cmd.Flags().String("bridge", "", "bridge name for bridge mode")
	cmd.Flags().String("mac", "", "guest MAC address")
	cmd.Flags().String("method", "", "execution channel (default: guest-channel)")
	addShellFlags(cmd)
}

func addShellFlags(cmd *cobra.Command) {
	cmd.Flags().String("ssh-host", "", "remote-shell host")
	cmd.Flags().Int("ssh-port", 22, "remote-shell port") //nolint:mnd
	cmd.Flags().String("ssh-user", "root", "remote-shell user")
	cmd.Flags().String("ssh-key", "", "remote-shell private key path")
}
