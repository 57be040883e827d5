// Command wardsync runs and inspects an offline-first ward data replica.
package main

import (
	"os"

	"github.com/roach88/wardsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
