// Command livegraph compiles entity specs, serves the store over HTTP and
// runs conformance scenarios.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/livegraph/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands report their own errors; only cobra's go unprinted.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
