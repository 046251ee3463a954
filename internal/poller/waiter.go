package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ErrNoMatch is returned by [Waiter.Wait] when the wait deadline passes
// without a public URL appearing in the agent's status responses. It marks
// absence, not failure: the caller decides whether to treat it as fatal.
var ErrNoMatch = errors.New("no matching public URL in status responses")

// Matcher extracts a public URL from a status response body.
//
// This is the poller-internal version of the matcher type, decoupled from
// the public tunnelup.URLMatcher to avoid circular dependencies.
type Matcher func(body []byte) (string, bool)

// Waiter blocks until the agent's status endpoint yields a public URL.
//
// Each attempt issues one GET with a per-attempt timeout. Connection
// failures and reachable responses without a match are both retried at a
// fixed interval with no backoff; the endpoint is local, so aggressive
// retry is cheap and the tunnel usually registers within a few seconds.
//
// An optional overall deadline bounds the wait. Without it the loop runs
// until the context is cancelled, which reproduces the behavior of a shell
// loop around curl.
type Waiter struct {
	client         *Client
	endpoint       string
	matcher        Matcher
	interval       time.Duration
	attemptTimeout time.Duration
	waitTimeout    time.Duration // 0 disables the deadline
	logger         *slog.Logger
}

// NewWaiter creates a [Waiter].
//
// Parameters:
//   - endpoint: the local status URL to poll (e.g. http://127.0.0.1:4040/api/tunnels)
//   - matcher: extracts the public URL from a response body
//   - interval: fixed sleep between attempts
//   - attemptTimeout: per-request timeout
//   - waitTimeout: overall deadline; 0 polls until the context is cancelled
//   - logger: logger for attempt-level events
func NewWaiter(endpoint string, matcher Matcher, interval, attemptTimeout, waitTimeout time.Duration, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		client:         NewClient(),
		endpoint:       endpoint,
		matcher:        matcher,
		interval:       interval,
		attemptTimeout: attemptTimeout,
		waitTimeout:    waitTimeout,
		logger:         logger,
	}
}

// Wait polls the status endpoint until a match is found.
//
// The first attempt is made immediately. Wait returns:
//   - the extracted URL on a match (the first occurrence in the body wins,
//     as defined by the matcher);
//   - an error wrapping [ErrNoMatch] if the deadline passes first;
//   - ctx.Err() if the context is cancelled.
//
// An unreachable endpoint is never reported as an error by itself; it is
// indistinguishable from an agent that has not finished starting.
func (w *Waiter) Wait(ctx context.Context) (string, error) {
	defer w.client.Close()

	var deadlineCh <-chan time.Time
	if w.waitTimeout > 0 {
		timer := time.NewTimer(w.waitTimeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		resp := w.client.Get(ctx, w.endpoint, w.attemptTimeout)

		switch {
		case resp.Error != nil:
			w.logger.Debug("status endpoint unreachable",
				"endpoint", w.endpoint,
				"attempt", attempt,
				"error", resp.Error,
			)
		default:
			if url, ok := w.safeMatch(resp.Body); ok {
				w.logger.Info("tunnel registered",
					"endpoint", w.endpoint,
					"attempt", attempt,
					"public_url", url,
					"latency_ms", resp.Latency.Milliseconds(),
				)
				return url, nil
			}
			w.logger.Debug("no tunnel in status response yet",
				"endpoint", w.endpoint,
				"attempt", attempt,
				"status_code", resp.StatusCode,
			)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadlineCh:
			return "", fmt.Errorf("%w (endpoint %s, %d attempts over %s)",
				ErrNoMatch, w.endpoint, attempt, w.waitTimeout)
		case <-ticker.C:
		}
	}
}

// safeMatch calls the matcher with panic recovery.
// If the matcher panics, the full stack trace is logged with a correlation
// ID and the attempt is treated as a non-match.
func (w *Waiter) safeMatch(body []byte) (url string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			w.logger.Error("matcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			url, ok = "", false
		}
	}()
	return w.matcher(body)
}
