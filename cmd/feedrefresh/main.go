package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "scheduler":
		runScheduler()
	case "worker":
		runWorker()
	case "api":
		runAPI()
	case "version":
		fmt.Printf("feedrefresh version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`feedrefresh - RSS/Atom feed refresh pipeline

Usage:
  feedrefresh <command> [flags]

Commands:
  scheduler   Run the scheduler tick loop (promotes stale complete jobs to pending)
  worker      Run the worker tick loop (claims and processes pending jobs)
  api         Run the read API (not implemented; out of core scope)
  version     Show version information
  help        Show this help message

Configuration is environment-driven; see pkg/config for the full list of
DATABASE_URL, FEED_UPDATE_*, SCHEDULER_*, and WORKER_* variables.

Examples:
  feedrefresh scheduler
  feedrefresh worker
`)
}

func runAPI() {
	fmt.Fprintln(os.Stderr, "the api command is a stub: the HTTP read surface is out of scope for this module")
	os.Exit(1)
}
