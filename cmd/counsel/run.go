package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/cli"
)

// Run executes the CLI with args and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "counsel:", err)
		return 1
	}
	return 0
}
