package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxLineSize bounds a single forwarded output line. Longer lines are split
// by the scanner rather than dropped.
const maxLineSize = 256 * 1024

// Common errors returned by [Handle].
var (
	ErrAlreadyStarted = errors.New("process already started")
	ErrNotStarted     = errors.New("process not started")
)

// Spec describes the process to launch. It is the proc-internal
// representation of a process, decoupled from the public tunnelup.Process
// type to avoid circular dependencies.
type Spec struct {
	// Name is the display name used in log attributes.
	Name string

	// Command is the argv vector. Command[0] is the executable.
	Command []string

	// Env contains extra environment variables appended to the parent
	// environment, overriding inherited values with the same name.
	Env map[string]string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
}

// Handle owns one running OS process.
//
// A Handle is created with [New], started once with [Handle.Start], and
// stopped with [Handle.Stop]. Process exit is observed via [Handle.Done];
// after Done is closed, [Handle.Err] reports the exit error.
//
// Stdout and stderr are consumed line by line and forwarded to the logger,
// so supervised processes never block on full pipes.
type Handle struct {
	spec   Spec
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	exitErr error

	done chan struct{}
}

// New creates a [Handle] for the given spec. The process is not launched
// until [Handle.Start] is called.
func New(spec Spec, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		spec:   spec,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Name returns the display name of the process.
func (h *Handle) Name() string {
	return h.spec.Name
}

// Start launches the process.
//
// Stdout and stderr are attached to line scanners that forward output to
// the logger with process and stream attributes. A background goroutine
// reaps the process and closes the Done channel when it exits.
//
// Start may be called at most once per Handle. Returns [ErrAlreadyStarted]
// on subsequent calls, or the exec error if the process could not be
// launched.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(h.spec.Command[0], h.spec.Command[1:]...)
	cmd.Dir = h.spec.Dir
	cmd.Env = os.Environ()
	for k, v := range h.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", h.spec.Name, err)
	}

	h.cmd = cmd
	h.started = true
	h.logger.Info("process started",
		"process", h.spec.Name,
		"pid", cmd.Process.Pid,
		"command", h.spec.Command[0],
	)

	var scanners sync.WaitGroup
	scanners.Add(2)
	go h.forwardOutput(stdout, "stdout", &scanners)
	go h.forwardOutput(stderr, "stderr", &scanners)

	// Reaper: Wait must run after both pipes hit EOF, otherwise Wait can
	// close the pipes while the scanners are mid-read.
	go func() {
		scanners.Wait()
		err := cmd.Wait()

		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()

		if err != nil {
			h.logger.Warn("process exited", "process", h.spec.Name, "error", err)
		} else {
			h.logger.Info("process exited", "process", h.spec.Name)
		}
		close(h.done)
	}()

	return nil
}

// forwardOutput copies one output stream to the logger, line by line.
func (h *Handle) forwardOutput(r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		h.logger.Info("process output",
			"process", h.spec.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("process output read failed",
			"process", h.spec.Name,
			"stream", stream,
			"error", err,
		)
	}
}

// Done returns a channel that is closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit error recorded by the reaper. Only meaningful after
// [Handle.Done] is closed; nil means a zero exit status.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// PID returns the OS process ID, or 0 if the process was never started.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Running reports whether the process has been started and has not exited.
func (h *Handle) Running() bool {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop terminates the process gracefully.
//
// Stop sends SIGTERM and waits up to the spec's StopTimeout for the process
// to exit, then escalates to SIGKILL and waits for the reaper. Calling Stop
// on a process that already exited, or was never started, is a safe no-op.
func (h *Handle) Stop() error {
	h.mu.Lock()
	cmd := h.cmd
	started := h.started
	h.mu.Unlock()

	if !started || cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-h.done:
		return nil
	default:
	}

	h.logger.Info("stopping process", "process", h.spec.Name, "pid", cmd.Process.Pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// The process may have exited between the check and the signal.
		select {
		case <-h.done:
			return nil
		default:
			return fmt.Errorf("signal %s: %w", h.spec.Name, err)
		}
	}

	grace := h.spec.StopTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	h.logger.Warn("process did not exit in time, killing",
		"process", h.spec.Name,
		"grace", grace.String(),
	)
	if err := cmd.Process.Kill(); err != nil {
		select {
		case <-h.done:
			return nil
		default:
			return fmt.Errorf("kill %s: %w", h.spec.Name, err)
		}
	}

	<-h.done
	return nil
}
