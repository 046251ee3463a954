package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietriver/tunnelup/config"
)

// validateCmd validates a config file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a tunnelup configuration file without starting any process.

This command parses the YAML, expands environment variables, renders the
agent command template, and validates all fields. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  tunnelup validate -c tunnelup.yaml
  tunnelup validate --config /etc/tunnelup/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// render the agent template too, so a bad {{.Port}} reference fails here
	// rather than at run time
	if _, err := config.BuildOptions(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  App:             %s (%s)\n", cfg.App.Name, strings.Join(cfg.App.Command, " "))
	fmt.Printf("  Agent:           %s (%s)\n", cfg.Agent.Name, strings.Join(cfg.Agent.Command, " "))
	fmt.Printf("  Status endpoint: %s\n", cfg.StatusEndpoint)
	fmt.Printf("  Poll interval:   %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Wait timeout:    %s\n", cfg.WaitTimeout.Duration())

	return nil
}
