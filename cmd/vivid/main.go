package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vivid",
		Short: "Live view server for Go",
		Long: `Vivid hosts stateful server-driven views over WebSocket.

Each route mounts a view process on the server. The disconnected HTTP
render seals the mount data into a signed token; the client presents
the token over WebSocket to go live. State lives on the server, events
flow up, renders flow down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
