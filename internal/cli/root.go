// Package cli implements the callgate command.
package cli

import (
	"github.com/spf13/cobra"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCommand builds the callgate command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "callgate",
		Short: "Rate-limited, fault-tolerant gateway for remote calls",
		Long: `callgate fronts remote dependencies with a token bucket, a concurrency
gate, a circuit breaker and retry with exponential backoff.

Use the subcommands to run the gateway server or inspect a running one.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config/callgate.yaml or ./callgate.yaml)")

	root.AddCommand(
		newServeCommand(&cfgFile, info),
		newStatusCommand(),
		newVersionCommand(info),
	)
	return root
}
