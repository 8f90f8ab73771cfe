// Package cli wires the merge engine to its external collaborators: the
// cobra command surface, exit-code mapping, the interactive conflict
// prompt, and the progress renderer. The engine packages under
// internal/ never import this one.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridable at link time.
var version = "0.0.1"

// NewRootCmd builds the command tree. The merge command is the root
// itself; version is the only subcommand.
func NewRootCmd() *cobra.Command {
	root := newMergeCmd()
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mergetree version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mergetree", version)
		},
	}
}
