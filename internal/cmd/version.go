package cmd

import (
	"fmt"

	"github.com/bietiekay/riak-fuse/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates and returns the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "riakfs %s\n", version.Full())
		},
	}
}
