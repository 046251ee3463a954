package tunnelup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/quietriver/tunnelup/internal/poller"
)

// ErrNoMatch is returned by [WaitForURL] (and reported by [Supervisor.Run])
// when the wait deadline passes without a public URL appearing. Check for
// it with errors.Is. It marks absence, not failure.
var ErrNoMatch = poller.ErrNoMatch

// WaitOptions configures [WaitForURL]. The zero value uses the same
// defaults as the supervisor.
type WaitOptions struct {
	// Interval is the fixed sleep between poll attempts. Defaults to 2s.
	Interval time.Duration

	// AttemptTimeout is the per-request timeout. Defaults to 3s.
	AttemptTimeout time.Duration

	// Timeout is the overall deadline. Defaults to 60s. Ignored when
	// Forever is set.
	Timeout time.Duration

	// Forever disables the deadline entirely: the loop polls until the
	// context is cancelled. This reproduces the unbounded retry loop of a
	// shell script around curl.
	Forever bool

	// Logger receives attempt-level events. Defaults to [slog.Default].
	Logger *slog.Logger
}

// WaitForURL polls an already running agent's status endpoint until a public
// URL appears, without supervising any processes.
//
// This is the standalone form of the supervisor's wait loop, for setups
// where the application and agent lifecycles are managed elsewhere (an init
// system, a compose file) and only the "block until the tunnel is ready"
// step is needed.
//
// Returns the extracted URL, an error wrapping [ErrNoMatch] if the deadline
// passes first, or ctx.Err() if the context is cancelled. An unreachable
// endpoint is retried, never returned as an error.
//
// Example:
//
//	url, err := tunnelup.WaitForURL(ctx,
//	    "http://127.0.0.1:4040/api/tunnels",
//	    tunnelup.DefaultMatcher,
//	    tunnelup.WaitOptions{Timeout: 30 * time.Second},
//	)
func WaitForURL(ctx context.Context, endpoint string, matcher URLMatcher, opts WaitOptions) (string, error) {
	if matcher == nil {
		return "", errors.New("matcher cannot be nil")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid status endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("status endpoint scheme must be http or https, got %q", parsed.Scheme)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	if opts.Forever {
		timeout = 0
	}

	w := poller.NewWaiter(endpoint, poller.Matcher(matcher), interval, attemptTimeout, timeout, opts.Logger)
	return w.Wait(ctx)
}
