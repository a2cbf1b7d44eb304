package main

import (
	"context"
	"os"

	"github.com/jonwraymond/callgate/internal/cli"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-10-17"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate})
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
