// =============================================================================
// ReviewFlow entry point
// =============================================================================
// Usage:
//
//	reviewflow run --input paper.pdf --output notes/   # review one paper
//	reviewflow run --config reviewflow.yaml            # paths from config
//	reviewflow convert paper.pdf                       # print page markdown
//	reviewflow runs list                               # stored run records
//	reviewflow runs show <run-id>
//	reviewflow models                                  # model catalog
//	reviewflow ui --config reviewflow.yaml             # terminal UI
//	reviewflow version
// =============================================================================

package main

import (
	"fmt"
	"os"
)

// Injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
