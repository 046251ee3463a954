// Package main is the entry point for the tunnelup CLI.
//
// tunnelup can be used either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	tunnelup run -c config.yaml       # Supervise app + agent, print the public URL
//	tunnelup wait --timeout 30s       # Only wait for an already running agent
//	tunnelup validate -c config.yaml  # Validate configuration
//	tunnelup version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "tunnelup",
	Short: "Run an app behind a tunneling agent and wait for its public URL",
	Long: `tunnelup supervises a local application and a tunneling agent
(ngrok, cloudflared, ...), polls the agent's local status API until a
public URL appears, and shuts both processes down on SIGINT/SIGTERM.

Quick start:
  1. Create a config file (tunnelup.yaml)
  2. Run: tunnelup run -c tunnelup.yaml
  3. The public URL is logged and served on the status API

Example config:
  poll_interval: 2s
  wait_timeout: 60s
  app:
    name: web
    command: [python3, app.py]
    port: 5000
  agent:
    name: ngrok
    command: [ngrok, http, "{{.Port}}"]`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this tunnelup binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tunnelup %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
