package main

import (
	"fmt"
	"os"

	"github.com/mergetree/mergetree/internal/cli"
)

func main() {
	err := cli.Execute()
	if err != nil && err.Error() != "" {
		// Exit-status errors are silent (their message was already
		// printed); anything with text is a usage error from cobra.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}
