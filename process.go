package tunnelup

import (
	"errors"
	"fmt"
	"time"
)

const defaultStopTimeout = 10 * time.Second

// Process describes one supervised OS process.
//
// Process is immutable after creation via [NewProcess]. All fields are
// private with getter methods that return copies of mutable data (slices,
// maps), ensuring the process description cannot be modified after
// construction.
//
// Processes are configured using the functional options pattern with
// [ProcessOption] functions such as [WithEnv], [WithDir], and
// [WithStopTimeout].
type Process struct {
	name        string
	command     []string
	env         map[string]string
	dir         string
	stopTimeout time.Duration
}

// Name returns the process's display name.
// The name is used for identification in logs and the status API.
func (p Process) Name() string {
	return p.name
}

// Command returns a copy of the process's argv vector.
// The first element is the executable path; the rest are its arguments.
func (p Process) Command() []string {
	cp := make([]string, len(p.command))
	copy(cp, p.command)
	return cp
}

// Env returns a copy of the extra environment variables for the process.
// These are appended to the supervisor's own environment at launch.
// Returns nil if no extra variables are set.
func (p Process) Env() map[string]string {
	return copyMap(p.env)
}

// Dir returns the working directory for the process.
// Empty means the supervisor's working directory is inherited.
func (p Process) Dir() string {
	return p.dir
}

// StopTimeout returns the grace period between SIGTERM and SIGKILL during
// shutdown. Defaults to 10 seconds if not explicitly set via [WithStopTimeout].
func (p Process) StopTimeout() time.Duration {
	return p.stopTimeout
}

// processConfig holds mutable state during Process construction.
type processConfig struct {
	env         map[string]string
	dir         string
	stopTimeout time.Duration
}

// ProcessOption is a function that configures a [Process] during construction.
//
// Built-in options: [WithEnv], [WithDir], [WithStopTimeout].
type ProcessOption func(*processConfig) error

// WithEnv adds environment variables as alternating key-value pairs.
//
// The variables are appended to the supervisor's environment when the
// process is launched, so they override inherited values with the same name.
//
// Example:
//
//	p, err := tunnelup.NewProcess("web", []string{"python3", "app.py"},
//	    tunnelup.WithEnv("FLASK_ENV", "production", "PORT", "5000"),
//	)
//
// Returns an error if an odd number of arguments is provided or a key is empty.
func WithEnv(pairs ...string) ProcessOption {
	return func(cfg *processConfig) error {
		if len(pairs)%2 != 0 {
			return errors.New("WithEnv requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(pairs); i += 2 {
			if pairs[i] == "" {
				return errors.New("environment variable name cannot be empty")
			}
			cfg.env[pairs[i]] = pairs[i+1]
		}
		return nil
	}
}

// WithDir sets the working directory for the process.
//
// If not set, the process inherits the supervisor's working directory.
func WithDir(dir string) ProcessOption {
	return func(cfg *processConfig) error {
		cfg.dir = dir
		return nil
	}
}

// WithStopTimeout sets the grace period between SIGTERM and SIGKILL when the
// process is stopped. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithStopTimeout(d time.Duration) ProcessOption {
	return func(cfg *processConfig) error {
		if d <= 0 {
			return fmt.Errorf("stop timeout must be positive, got %s", d)
		}
		cfg.stopTimeout = d
		return nil
	}
}

// NewProcess creates a [Process] with the given name, command, and options.
//
// The name parameter is a human-readable identifier used in logs and the
// status API. The command parameter is the argv vector: command[0] is the
// executable (resolved via PATH if not absolute) and the remaining elements
// are its arguments.
//
// Options are applied in order using the functional options pattern.
// See [WithEnv], [WithDir], and [WithStopTimeout].
//
// Returns an error if the name is empty or the command is empty.
//
// Example:
//
//	p, err := tunnelup.NewProcess("ngrok", []string{"ngrok", "http", "5000"},
//	    tunnelup.WithStopTimeout(5 * time.Second),
//	)
func NewProcess(name string, command []string, opts ...ProcessOption) (Process, error) {
	if name == "" {
		return Process{}, errors.New("process name cannot be empty")
	}
	if len(command) == 0 {
		return Process{}, errors.New("process command cannot be empty")
	}
	if command[0] == "" {
		return Process{}, errors.New("process executable cannot be empty")
	}

	cfg := &processConfig{
		env:         make(map[string]string),
		stopTimeout: defaultStopTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Process{}, err
		}
	}

	cp := make([]string, len(command))
	copy(cp, command)

	env := cfg.env
	if len(env) == 0 {
		env = nil
	}

	return Process{
		name:        name,
		command:     cp,
		env:         env,
		dir:         cfg.dir,
		stopTimeout: cfg.stopTimeout,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
