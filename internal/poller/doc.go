// Package poller implements the wait-for-tunnel loop for tunnelup.
//
// This package is internal to tunnelup. It polls the tunneling agent's local
// status endpoint at a fixed interval until the response body yields a public
// URL, distinguishing two non-fatal conditions: a transiently unreachable
// endpoint (retried) and a reachable response without a match (also retried,
// since tunnel registration lags agent startup).
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-attempt timeout and size limits
//   - [Waiter]: The poll-and-match loop with an optional overall deadline
//
// Users of the tunnelup library should not need to interact with this
// package directly. Configuration is done through the main tunnelup package.
package poller
