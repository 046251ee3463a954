package tunnelup

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// supConfig holds mutable state during Supervisor construction.
type supConfig struct {
	app            *Process
	agent          *Process
	statusEndpoint string
	matcher        URLMatcher
	pollInterval   time.Duration
	attemptTimeout time.Duration
	waitTimeout    time.Duration
	statusPort     int
	logger         *slog.Logger
	urlCallbacks   []func(TunnelStatus)
}

// Option is a function that configures a [Supervisor] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithApp], [WithAgent], [WithStatusEndpoint],
// [WithMatcher], [WithPollInterval], [WithAttemptTimeout], [WithWaitTimeout],
// [WithStatusPort], [WithLogger], [WithURLCallback].
type Option func(*supConfig) error

// WithApp sets the application process to supervise. Required.
//
// The application is started first and stopped last, mirroring the order a
// container entrypoint would use.
func WithApp(p Process) Option {
	return func(cfg *supConfig) error {
		cfg.app = &p
		return nil
	}
}

// WithAgent sets the tunneling agent process to supervise. Required.
//
// The agent is started after the application and stopped before it, so the
// public side disappears before the local side.
func WithAgent(p Process) Option {
	return func(cfg *supConfig) error {
		cfg.agent = &p
		return nil
	}
}

// WithStatusEndpoint sets the local HTTP endpoint polled for tunnel
// registrations. Defaults to http://127.0.0.1:4040/api/tunnels, the
// conventional ngrok local API address.
//
// Returns an error if the URL is invalid or not http/https.
func WithStatusEndpoint(rawURL string) Option {
	return func(cfg *supConfig) error {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid status endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("status endpoint scheme must be http or https, got %q", parsed.Scheme)
		}
		cfg.statusEndpoint = rawURL
		return nil
	}
}

// WithMatcher sets the [URLMatcher] used to extract the public URL from the
// agent's status response. Defaults to [DefaultMatcher].
func WithMatcher(m URLMatcher) Option {
	return func(cfg *supConfig) error {
		if m == nil {
			return errors.New("matcher cannot be nil")
		}
		cfg.matcher = m
		return nil
	}
}

// WithPollInterval sets the fixed sleep between poll attempts against the
// agent's status endpoint. Defaults to 2 seconds. There is no backoff: the
// endpoint is local and the tunnel typically registers within seconds.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *supConfig) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithAttemptTimeout sets the per-request timeout for each poll attempt.
// Defaults to 3 seconds.
//
// Returns an error if the duration is zero or negative.
func WithAttemptTimeout(d time.Duration) Option {
	return func(cfg *supConfig) error {
		if d <= 0 {
			return fmt.Errorf("attempt timeout must be positive, got %s", d)
		}
		cfg.attemptTimeout = d
		return nil
	}
}

// WithWaitTimeout sets the overall deadline for the tunnel to appear.
// Defaults to 60 seconds.
//
// When the deadline passes without a match, the supervisor reports the
// absence and continues running in a degraded state; it does not abort.
// A value of 0 disables the deadline and polls until the context is
// cancelled.
//
// Returns an error if the duration is negative.
func WithWaitTimeout(d time.Duration) Option {
	return func(cfg *supConfig) error {
		if d < 0 {
			return fmt.Errorf("wait timeout cannot be negative, got %s", d)
		}
		cfg.waitTimeout = d
		return nil
	}
}

// WithStatusPort enables the supervisor's own status HTTP server on the
// given port. The server exposes GET /api/status and GET /api/events.
// A port of 0 (the default) disables the server.
//
// Returns an error if the port is outside 0-65535.
func WithStatusPort(port int) Option {
	return func(cfg *supConfig) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("status port must be between 0 and 65535, got %d", port)
		}
		cfg.statusPort = port
		return nil
	}
}

// WithLogger sets the structured logger used by the supervisor and its
// internal components. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *supConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithURLCallback registers a callback invoked once when the public URL is
// extracted. Can be called multiple times to register multiple callbacks;
// they are invoked in registration order.
//
// Callbacks run on the supervisor's goroutine inside a panic recovery
// boundary: a panicking callback is logged and does not stop supervision.
func WithURLCallback(cb func(TunnelStatus)) Option {
	return func(cfg *supConfig) error {
		if cb == nil {
			return errors.New("url callback cannot be nil")
		}
		cfg.urlCallbacks = append(cfg.urlCallbacks, cb)
		return nil
	}
}
