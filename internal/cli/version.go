package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(info BuildInfo) *cobra.Command {
	var extended bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "callgate %s\n", info.Version)
			if extended {
				fmt.Fprintf(out, "Commit: %s\n", info.Commit)
				fmt.Fprintf(out, "Built: %s\n", info.BuildDate)
				fmt.Fprintf(out, "Go: %s\n", runtime.Version())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&extended, "extended", "e", false, "show commit, build date and Go version")
	return cmd
}
