// Package main implements the sift command line tool, which sorts and
// deduplicates large line-oriented files and manages the task queue that
// drives sorting across several processes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "sift: %v\n", err)
		stop()
		os.Exit(1)
	}
}
