package main

import (
	"fmt"
	"log/slog"
	"os"
)

var version = "dev"

const defaultAddr = ":8090"

func usage() {
	fmt.Fprintf(os.Stderr, `branchanalyzer — AI-assisted branch analysis orchestrator

Usage:
  branchanalyzer analyze --project <name> --branch <name> --commit <sha> [flags]
                              Run one analysis synchronously and print the result
  branchanalyzer serve [flags]
                              Start the HTTP server (default %s)
  branchanalyzer watch --addr <host:port>
                              Attach a terminal UI to a running server's progress stream
  branchanalyzer init
                              Interactively register a project and its VCS credentials

Flags:
  --config       Path to .branchanalyzer/config.yaml (default: discovered from cwd)
`, defaultAddr)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	logger := slog.Default()

	var err error
	switch subcmd {
	case "analyze":
		err = runAnalyze(rest, logger)
	case "serve":
		err = runServe(rest, logger)
	case "watch":
		err = runWatch(rest)
	case "init":
		err = runInit(rest)
	case "--version", "version":
		fmt.Println("branchanalyzer " + version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "branchanalyzer %s: %v\n", subcmd, err)
		os.Exit(1)
	}
}
