package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, `ripple %s - realtime event relay

Usage:
  ripple serve   [flags]   run the relay server
  ripple tail    [flags]   stream events to stdout
  ripple publish [flags]   publish an event to a relay
  ripple token   [flags]   mint a bearer token
  ripple version           print the version

Run 'ripple <command> -h' for command flags.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "tail":
		os.Exit(runTail(args))
	case "publish":
		os.Exit(runPublish(args))
	case "token":
		os.Exit(runToken(args))
	case "version", "-v", "--version":
		fmt.Println("ripple " + version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}
