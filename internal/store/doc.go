// Package store provides supervision snapshot storage for tunnelup.
//
// This package is internal to tunnelup. It holds the current supervision
// snapshot (state, public URL, process states) with a publish-subscribe
// mechanism so the status server can push updates to connected clients via
// Server-Sent Events.
//
// Users of the tunnelup library should not need to interact with this
// package directly.
package store
