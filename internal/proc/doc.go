// Package proc provides explicit OS process handles for tunnelup.
//
// This package is internal to tunnelup and wraps exec.Cmd with the lifecycle
// the supervisor needs: start with output forwarding to structured logs, a
// Done channel for exit observation, and a graceful Stop that escalates from
// SIGTERM to SIGKILL after a grace period.
//
// Users of the tunnelup library should not need to interact with this
// package directly. Processes are described with tunnelup.NewProcess.
package proc
