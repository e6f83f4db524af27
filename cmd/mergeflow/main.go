package main

import (
	"fmt"
	"os"

	"github.com/mergeflow/mergeflow/internal/commands"
)

func usage() {
	fmt.Fprintf(os.Stderr, `mergeflow — issue-to-merge pipeline

Usage:
  mergeflow init                                   Scaffold .mergeflow/ directory and config
  mergeflow validate [--project-config path]       Validate project configuration
  mergeflow run [--project-config path] [--profile name] [--unattended] [--verbose]
                                                   Process the issue queue
  mergeflow status [--project-config path] [--limit n]
                                                   Show session record and recent activity
  mergeflow resume <issue-id> [--project-config path]
                                                   Show the interrupt snapshot for an issue

Flags:
  --project-config    Path to project config YAML (default: discover .mergeflow/mergeflow.yaml)
  --profile           Credentials profile from ~/.mergeflow/credentials.yaml
  --unattended        Override mode to unattended for this run
  --verbose           Enable debug logging
  --limit             Number of activity entries to show (status command only)
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch subcmd {
	case "init":
		err = commands.Init(rest)
	case "validate":
		err = commands.Validate(rest)
	case "run":
		err = commands.Run(rest)
	case "status":
		err = commands.Status(rest)
	case "resume":
		err = commands.Resume(rest)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
