// Command visitortrack runs and queries the per-URL visit counter.
package main

import (
	"os"

	"github.com/runnerr0/visitortrack/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
