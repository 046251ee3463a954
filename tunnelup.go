package tunnelup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quietriver/tunnelup/internal/poller"
	"github.com/quietriver/tunnelup/internal/proc"
	"github.com/quietriver/tunnelup/internal/server"
	"github.com/quietriver/tunnelup/internal/store"
)

const (
	defaultStatusEndpoint = "http://127.0.0.1:4040/api/tunnels"
	defaultPollInterval   = 2 * time.Second
	defaultAttemptTimeout = 3 * time.Second
	defaultWaitTimeout    = 60 * time.Second
)

// Supervisor is the main orchestrator for process supervision and tunnel
// readiness.
//
// Supervisor owns the application and agent processes as explicit handles,
// polls the agent's local status endpoint for a public URL, and serves the
// combined state over an optional status API. It is created using [New]
// with functional options and started with [Supervisor.Run].
//
// The typical lifecycle is:
//
//	sup, err := tunnelup.New(tunnelup.WithApp(app), tunnelup.WithAgent(agent))
//	if err != nil {
//	    slog.Error("failed to create supervisor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	sup.Run(ctx) // blocks until context cancelled or a process dies
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type Supervisor struct {
	runID          string
	app            Process
	agent          Process
	statusEndpoint string
	matcher        URLMatcher
	pollInterval   time.Duration
	attemptTimeout time.Duration
	waitTimeout    time.Duration
	statusPort     int
	logger         *slog.Logger
	urlCallbacks   []func(TunnelStatus)
}

// New creates a new [Supervisor] instance with the given options.
//
// The application and agent processes must be configured via [WithApp] and
// [WithAgent]. Other options have sensible defaults:
//   - Status endpoint: http://127.0.0.1:4040/api/tunnels
//   - Matcher: [DefaultMatcher]
//   - Poll interval: 2 seconds
//   - Attempt timeout: 3 seconds
//   - Wait timeout: 60 seconds
//   - Status server: disabled
//
// Returns an error if a required process is missing or any option is invalid.
func New(opts ...Option) (*Supervisor, error) {
	cfg := &supConfig{
		statusEndpoint: defaultStatusEndpoint,
		matcher:        DefaultMatcher,
		pollInterval:   defaultPollInterval,
		attemptTimeout: defaultAttemptTimeout,
		waitTimeout:    defaultWaitTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.app == nil {
		return nil, errors.New("an application process is required (use WithApp)")
	}
	if cfg.agent == nil {
		return nil, errors.New("a tunneling agent process is required (use WithAgent)")
	}
	if cfg.app.Name() == cfg.agent.Name() {
		return nil, fmt.Errorf("app and agent must have distinct names, both are %q", cfg.app.Name())
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		runID:          uuid.NewString(),
		app:            *cfg.app,
		agent:          *cfg.agent,
		statusEndpoint: cfg.statusEndpoint,
		matcher:        cfg.matcher,
		pollInterval:   cfg.pollInterval,
		attemptTimeout: cfg.attemptTimeout,
		waitTimeout:    cfg.waitTimeout,
		statusPort:     cfg.statusPort,
		logger:         logger,
		urlCallbacks:   cfg.urlCallbacks,
	}, nil
}

// RunID returns the unique identifier of this supervision run.
func (s *Supervisor) RunID() string {
	return s.runID
}

// StatusEndpoint returns the local endpoint polled for tunnel registrations.
func (s *Supervisor) StatusEndpoint() string {
	return s.statusEndpoint
}

// PollInterval returns the configured interval between poll attempts.
func (s *Supervisor) PollInterval() time.Duration {
	return s.pollInterval
}

// WaitTimeout returns the configured deadline for the tunnel to appear.
// Zero means no deadline.
func (s *Supervisor) WaitTimeout() time.Duration {
	return s.waitTimeout
}

// waitOutcome carries the result of the background wait loop.
type waitOutcome struct {
	url string
	err error
}

// Run starts both processes and supervises them until shutdown.
//
// Run is a blocking call. During execution:
//
//   - The application process is started, then the agent process
//   - The status server starts if a port was configured
//   - The agent's status endpoint is polled until a public URL appears;
//     the URL is logged, published to the status API, and passed to
//     registered callbacks
//   - If no URL appears before the wait timeout, the run is marked degraded
//     and supervision continues
//
// Run returns when the context is cancelled (graceful shutdown, nil error)
// or when either process exits on its own (both processes are stopped and a
// non-nil error is returned, even for a zero exit status — the supervised
// processes are servers and are not expected to finish).
//
// Shutdown stops the agent before the application, so the public side
// disappears before the local side.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor starting",
		"run_id", s.runID,
		"app", s.app.Name(),
		"agent", s.agent.Name(),
		"status_endpoint", s.statusEndpoint,
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	// Everything Run starts (the wait goroutine, the status server) hangs off
	// this derived context, so a return on an unexpected process exit tears
	// it all down, not just a return on caller cancellation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	began := time.Now()
	st := store.NewMemoryStore()

	app := proc.New(toSpec(s.app), s.logger)
	agent := proc.New(toSpec(s.agent), s.logger)

	s.publish(st, app, agent, StateStarting, "", nil)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	if err := agent.Start(); err != nil {
		s.stopQuietly(app)
		return fmt.Errorf("failed to start agent: %w", err)
	}

	if s.statusPort > 0 {
		srv := server.New(st, s.statusPort, s.logger)
		if err := srv.Start(ctx); err != nil {
			s.stopQuietly(agent)
			s.stopQuietly(app)
			return fmt.Errorf("failed to start status server: %w", err)
		}
		s.logger.Info("status API available",
			"url", fmt.Sprintf("http://localhost:%d/api/status", s.statusPort),
		)
	}

	s.publish(st, app, agent, StateWaiting, "", nil)

	waiter := poller.NewWaiter(
		s.statusEndpoint,
		poller.Matcher(s.matcher),
		s.pollInterval,
		s.attemptTimeout,
		s.waitTimeout,
		s.logger,
	)
	waitCh := make(chan waitOutcome, 1)
	go func() {
		url, err := waiter.Wait(ctx)
		waitCh <- waitOutcome{url: url, err: err}
	}()

	var (
		publicURL string
		runErr    error
	)

loop:
	for {
		select {
		case out := <-waitCh:
			waitCh = nil // consume at most once
			switch {
			case out.err == nil:
				publicURL = out.url
				s.logger.Info("tunnel ready",
					"run_id", s.runID,
					"public_url", publicURL,
					"ready_after", time.Since(began).String(),
				)
				s.publish(st, app, agent, StateReady, publicURL, nil)
				ts := TunnelStatus{
					RunID:      s.runID,
					PublicURL:  publicURL,
					Endpoint:   s.statusEndpoint,
					ReadyAfter: time.Since(began),
					CheckedAt:  time.Now(),
				}
				for _, cb := range s.urlCallbacks {
					s.invokeCallbackSafe(cb, ts)
				}

			case errors.Is(out.err, poller.ErrNoMatch):
				// absence is reported, not fatal: the processes stay up
				s.logger.Warn("no public URL found, continuing without one", "error", out.err)
				s.publish(st, app, agent, StateDegraded, "", out.err)

			case errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded):
				// shutdown already in progress, ctx.Done() fires next

			default:
				s.logger.Warn("wait for tunnel failed", "error", out.err)
				s.publish(st, app, agent, StateDegraded, "", out.err)
			}

		case <-app.Done():
			runErr = exitError("application", app)
			break loop

		case <-agent.Done():
			runErr = exitError("agent", agent)
			break loop

		case <-ctx.Done():
			break loop
		}
	}

	// agent first: tear down the public side before the local side
	s.stopQuietly(agent)
	s.stopQuietly(app)

	s.publish(st, app, agent, StateStopped, publicURL, runErr)
	s.logger.Info("supervisor stopped", "run_id", s.runID)
	return runErr
}

// publish writes the current supervision snapshot to the store.
func (s *Supervisor) publish(st store.Store, app, agent *proc.Handle, state State, publicURL string, err error) {
	var errStr *string
	if err != nil {
		msg := err.Error()
		errStr = &msg
	}

	st.Update(store.Snapshot{
		RunID:     s.runID,
		State:     state.String(),
		PublicURL: publicURL,
		Endpoint:  s.statusEndpoint,
		Processes: []store.ProcessStatus{
			{Name: app.Name(), PID: app.PID(), Running: app.Running()},
			{Name: agent.Name(), PID: agent.PID(), Running: agent.Running()},
		},
		Error:     errStr,
		UpdatedAt: time.Now(),
	})
}

// stopQuietly stops a process handle, logging rather than returning failures.
// Shutdown continues past individual stop errors so the second process is
// always attempted.
func (s *Supervisor) stopQuietly(h *proc.Handle) {
	if err := h.Stop(); err != nil {
		s.logger.Warn("failed to stop process", "process", h.Name(), "error", err)
	}
}

// exitError builds the error returned when a supervised process exits on
// its own. Even a clean exit is an error at this level: both processes are
// expected to run until shutdown.
func exitError(role string, h *proc.Handle) error {
	if err := h.Err(); err != nil {
		return fmt.Errorf("%s process %q exited unexpectedly: %w", role, h.Name(), err)
	}
	return fmt.Errorf("%s process %q exited unexpectedly with status 0", role, h.Name())
}

// invokeCallbackSafe calls a URL callback with panic recovery.
// Panics are logged but do not propagate.
func (s *Supervisor) invokeCallbackSafe(cb func(TunnelStatus), ts TunnelStatus) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("url callback panicked",
				"panic", r,
				"public_url", ts.PublicURL,
			)
		}
	}()
	cb(ts)
}

// toSpec converts a public Process to the proc-internal spec.
func toSpec(p Process) proc.Spec {
	return proc.Spec{
		Name:        p.Name(),
		Command:     p.Command(),
		Env:         p.Env(),
		Dir:         p.Dir(),
		StopTimeout: p.StopTimeout(),
	}
}
