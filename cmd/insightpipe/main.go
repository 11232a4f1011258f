/*
Package main is the entry point for the insightpipe CLI.

Usage:

	insightpipe [command]

Available Commands:

	serve       Run the HTTP API, the WebSocket feed and the scheduler
	run         Run the full pipeline once and wait for it
	clean       Clean and validate a dataset without analysis or training
	models      Inspect and manage fine-tuned checkpoints
*/
package main

import (
	"fmt"
	"os"

	"insightpipe/internal/app"
	"insightpipe/internal/cli"
)

// Version information (set via ldflags during build)
var (
	version = app.VERSION
	commit  = "none"
)

func main() {
	root := cli.NewRootCmd(fmt.Sprintf("%s (commit: %s, build: %s)", version, commit, app.BuildID))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
