// Package cli implements the faultd command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewRootCommand builds the faultd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "faultd",
		Short:         "HTTPS stub server with wire-level fault injection",
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}
