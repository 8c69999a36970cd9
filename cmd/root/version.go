package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  `Display the version and commit hash`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deskagent version %s\n", version.Version)
			fmt.Fprintf(out, "Commit: %s\n", version.Commit)
			return nil
		},
	}
}
