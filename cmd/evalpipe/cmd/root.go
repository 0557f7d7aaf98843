// Package cmd implements the evalpipe CLI harness (§10.5): demonstration
// scaffolding around the precache and writer engines, in the shape of
// yanet2's cobra-based coordinator binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Root is the evalpipe root command; subcommands register themselves on
// it from init().
var Root = &cobra.Command{
	Use:   "evalpipe",
	Short: "Smoke-test harness for the evalpipe precache and writer engines",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
