package tunnelup

import "time"

// State represents the overall supervision state.
//
// State is a string type that can hold one of five predefined values:
// [StateStarting], [StateWaiting], [StateReady], [StateDegraded], or
// [StateStopped]. Using a string type allows for easy JSON serialization and
// human-readable logging while maintaining type safety through the defined
// constants.
type State string

const (
	// StateStarting indicates the supervised processes are being launched.
	StateStarting State = "starting"

	// StateWaiting indicates both processes are running and the supervisor
	// is polling the agent's status endpoint for a public URL.
	StateWaiting State = "waiting"

	// StateReady indicates a public URL has been extracted from the agent.
	StateReady State = "ready"

	// StateDegraded indicates both processes are running but no public URL
	// appeared before the wait deadline. Supervision continues.
	StateDegraded State = "degraded"

	// StateStopped indicates the supervised processes have been shut down.
	StateStopped State = "stopped"
)

// String returns the string representation of the state.
// This implements the fmt.Stringer interface.
func (s State) String() string {
	return string(s)
}

// TunnelStatus describes a successfully registered tunnel. It is passed to
// URL callbacks registered via [WithURLCallback] and reflects the moment the
// public URL was first extracted.
type TunnelStatus struct {
	// RunID uniquely identifies this supervision run.
	RunID string

	// PublicURL is the URL extracted from the agent's status response.
	PublicURL string

	// Endpoint is the local status endpoint that was polled.
	Endpoint string

	// ReadyAfter is the time elapsed between supervisor start and URL extraction.
	ReadyAfter time.Duration

	// CheckedAt is the timestamp of the poll that produced the URL.
	CheckedAt time.Time
}
