package store

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel buffer. Supervision state
// changes are rare, so a small buffer is plenty.
const subscriberBuffer = 16

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage of the current snapshot with a
// publish-subscribe mechanism for real-time updates. Updates are sent to
// subscribers non-blocking; if a subscriber's buffer is full, the update is
// dropped for that subscriber to prevent blocking the supervisor.
type MemoryStore struct {
	mu          sync.RWMutex
	current     Snapshot
	subscribers map[chan Snapshot]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Update replaces the current [Snapshot] and notifies all subscribers.
func (m *MemoryStore) Update(snap Snapshot) {
	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()

	m.notifySubscribers(snap)
}

// Get returns the current snapshot.
func (m *MemoryStore) Get() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates.
//
// If the buffer fills (slow consumer), new updates are dropped for this
// subscriber. Caller must call [MemoryStore.Unsubscribe] when done to
// prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// updates will be sent. Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the snapshot to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the message
// is dropped for that subscriber rather than blocking the update path.
func (m *MemoryStore) notifySubscribers(snap Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// subscriber is slow, drop the message
		}
	}
}
