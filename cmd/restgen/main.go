// Command restgen serves a REST API generated from a YAML model registry.
package main

import (
	"fmt"
	"os"
)

// Set through -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
