// Package main implements the flowbridge command: it serves scheduled and
// on-demand flows, runs single flows, and validates definitions.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flowbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}
