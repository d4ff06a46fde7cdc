package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/masbolt/masbolt/internal/version"
)

// NewVersionCmd prints the compiled version details; --short prints only the semantic version.
func NewVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show masbolt version",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
