package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietriver/tunnelup"
)

// waitCmd polls an already running agent without supervising processes.
var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for an already running agent to report a public URL",
	Long: `Poll a tunneling agent's local status API until a public URL appears,
then print it to stdout.

Use this when the application and agent are started elsewhere (an init
system, a compose file) and a script only needs to block until the
tunnel is ready:

  URL=$(tunnelup wait --timeout 30s)

The endpoint is retried while unreachable; a reachable response without
a matching URL is also retried, since registration lags agent startup.

Exit codes:
  0 - URL found and printed
  1 - no URL appeared before the timeout, or the wait was interrupted

Example:
  tunnelup wait
  tunnelup wait --url http://127.0.0.1:4040/api/tunnels --pattern 'https://[a-z0-9-]+\.trycloudflare\.com'
  tunnelup wait --forever`,
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)

	waitCmd.Flags().String("url", "http://127.0.0.1:4040/api/tunnels", "agent status endpoint to poll")
	waitCmd.Flags().String("pattern", "", "regex for the public URL (default: tunnels API document, then ngrok hostnames)")
	waitCmd.Flags().Duration("interval", 2*time.Second, "sleep between poll attempts")
	waitCmd.Flags().Duration("attempt-timeout", 3*time.Second, "per-request timeout")
	waitCmd.Flags().Duration("timeout", 60*time.Second, "overall deadline for the tunnel to appear")
	waitCmd.Flags().Bool("forever", false, "ignore --timeout and poll until interrupted")
}

func runWait(cmd *cobra.Command, args []string) error {
	endpoint, _ := cmd.Flags().GetString("url")
	pattern, _ := cmd.Flags().GetString("pattern")
	interval, _ := cmd.Flags().GetDuration("interval")
	attemptTimeout, _ := cmd.Flags().GetDuration("attempt-timeout")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	forever, _ := cmd.Flags().GetBool("forever")

	matcher := tunnelup.DefaultMatcher
	if pattern != "" {
		var err error
		matcher, err = tunnelup.RegexMatcher(pattern)
		if err != nil {
			return fmt.Errorf("invalid --pattern: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url, err := tunnelup.WaitForURL(ctx, endpoint, matcher, tunnelup.WaitOptions{
		Interval:       interval,
		AttemptTimeout: attemptTimeout,
		Timeout:        timeout,
		Forever:        forever,
		Logger:         newLogger(),
	})
	if err != nil {
		if errors.Is(err, tunnelup.ErrNoMatch) {
			fmt.Fprintf(os.Stderr, "no public URL found: %v\n", err)
			// keep cobra from printing usage for an expected outcome
			cmd.SilenceUsage = true
		}
		return err
	}

	fmt.Println(url)
	return nil
}
