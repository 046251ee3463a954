package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietriver/tunnelup"
	"github.com/quietriver/tunnelup/config"
)

const shutdownTimeout = 30 * time.Second

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// runCmd supervises the application and agent processes.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise the app and agent, wait for the public URL",
	Long: `Start the application and the tunneling agent, then poll the agent's
local status API until a public URL appears.

The command will:
  - Start the application process, then the agent process
  - Poll the status endpoint at the configured interval
  - Print the public URL to stdout when the tunnel registers
  - Keep both processes running until interrupted (Ctrl+C) or SIGTERM

If no URL appears before wait_timeout, a message is printed and both
processes keep running: absence of a tunnel is reported, not fatal.
If either process exits on its own, the other is stopped and the
command exits non-zero.

Example:
  tunnelup run -c tunnelup.yaml
  tunnelup run --config /etc/tunnelup/config.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"app", cfg.App.Name,
		"agent", cfg.Agent.Name,
		"status_endpoint", cfg.StatusEndpoint,
		"poll_interval", cfg.PollInterval.Duration().String(),
		"wait_timeout", cfg.WaitTimeout.Duration().String(),
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts,
		tunnelup.WithLogger(logger),
		tunnelup.WithURLCallback(func(ts tunnelup.TunnelStatus) {
			// the URL goes to stdout so scripts can capture it;
			// everything else is structured logging on stderr
			fmt.Println(ts.PublicURL)
		}),
	)

	sup, err := tunnelup.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run supervisor - blocks until context cancelled or a process dies
	errChan := make(chan error, 1)
	go func() {
		errChan <- sup.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("supervisor error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("supervisor error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
