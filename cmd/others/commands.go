package others

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Actions defines cross-cutting system operations.
type Actions interface {
	Request(cmd *cobra.Command, args []string) error
	Monitor(cmd *cobra.Command, args []string) error
	Version(cmd *cobra.Command, args []string) error
}

// Commands builds the system command set (request, monitor, version,
// completion).
func Commands(h Actions) []*cobra.Command {
	requestCmd := &cobra.Command{
		Use:   "request LINE",
		Short: "Execute a raw request line (operation name=value ...)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Request,
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the health monitor loop in the foreground",
		RunE:  h.Monitor,
	}

	return []*cobra.Command{
		requestCmd,
		monitorCmd,
		{
			Use:   "version",
			Short: "Show version, git revision, and build timestamp",
			RunE:  h.Version,
		},
		{
			Use:       "completion [bash|zsh|fish|powershell]",
			Short:     "Generate shell completion script",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
			RunE: func(cmd *cobra.Command, args []string) error {
				root := cmd.Root()
				switch args[0] {
				case "bash":
					return root.GenBashCompletion(os.Stdout)
				case "zsh":
					return root.GenZshCompletion(os.Stdout)
				case "fish":
					return root.GenFishCompletion(os.Stdout, true)
				case "powershell":
					return root.GenPowerShellCompletionWithDesc(os.Stdout)
				default:
					return fmt.Errorf("unsupported shell: %s", args[0])
				}
			},
		},
	}
}
