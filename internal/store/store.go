package store

import "time"

// ProcessStatus describes one supervised process in a snapshot.
type ProcessStatus struct {
	// Name is the process's display name.
	Name string `json:"name"`

	// PID is the OS process ID, or 0 if not started.
	PID int `json:"pid"`

	// Running reports whether the process is currently alive.
	Running bool `json:"running"`
}

// Snapshot is the storage representation of the supervision state, optimized
// for JSON serialization (used by the REST API and SSE). It is decoupled
// from the supervisor's internal types to allow independent evolution.
type Snapshot struct {
	// RunID uniquely identifies the supervision run.
	RunID string `json:"run_id"`

	// State is the overall state ("starting", "waiting", "ready", "degraded", "stopped").
	State string `json:"state"`

	// PublicURL is the extracted tunnel URL, empty until known.
	PublicURL string `json:"public_url,omitempty"`

	// Endpoint is the agent status endpoint being polled.
	Endpoint string `json:"status_endpoint"`

	// Processes lists the supervised processes.
	Processes []ProcessStatus `json:"processes"`

	// Error contains a message when the state carries one (e.g. degraded).
	// nil indicates no error.
	Error *string `json:"error"`

	// UpdatedAt is the timestamp of the last state change.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for storing and subscribing to snapshot updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update replaces the current snapshot and notifies all subscribers.
	Update(snap Snapshot)

	// Get returns the current snapshot.
	Get() Snapshot

	// Subscribe returns a channel that receives snapshot updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Snapshot)
}
