// Package server provides the tunnelup status HTTP server.
//
// This package is internal to tunnelup. It serves the current supervision
// snapshot as JSON and streams snapshot changes via Server-Sent Events, so
// sidecars and humans can observe when the tunnel becomes ready without
// scraping logs.
//
// Users of the tunnelup library should not need to interact with this
// package directly. The server is enabled with tunnelup.WithStatusPort.
package server
