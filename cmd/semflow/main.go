// Package main provides the semflow binary entry point.
// Semflow is a deterministic, schema-driven workflow orchestrator: it
// plans a step DAG, routes each step to an adapter under a token budget,
// and records every run in an append-only audit log.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/c360studio/semflow/commands"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := commands.NewRootCmd(Version, BuildTime).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
