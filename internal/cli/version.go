package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of emitter, set by build flags
	Version = "0.1.0"
	// GitCommit will be set by build flags
	GitCommit = "dev"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the version information for emitter.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "emitter version: %s\n", Version)
			fmt.Fprintf(out, "git commit: %s\n", GitCommit)
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())
		},
	}

	return cmd
}
