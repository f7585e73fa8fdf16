package downstream

import (
	"sync"
	"time"
)

// ConnectionState represents the lifecycle of a downstream connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Health is a point-in-time snapshot of a connection's status and counters.
type Health struct {
	State ConnectionState `json:"state"`
	// Reason is set when State is StateError.
	Reason        string        `json:"reason,omitempty"`
	ConnectedAt   time.Time     `json:"connectedAt,omitzero"`
	LastHeartbeat time.Time     `json:"lastHeartbeat,omitzero"`
	MessageCount  uint64        `json:"messageCount"`
	ErrorCount    uint64        `json:"errorCount"`
	Latency       time.Duration `json:"latency"`
}

type healthTracker struct {
	mu sync.RWMutex
	h  Health
}

func newHealthTracker() *healthTracker {
	return &healthTracker{h: Health{State: StateDisconnected}}
}

func (t *healthTracker) snapshot() Health {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.h
}

func (t *healthTracker) state() ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.h.State
}

func (t *healthTracker) setState(s ConnectionState) {
	t.mu.Lock()
	t.h.State = s
	if s != StateError {
		t.h.Reason = ""
	}
	t.mu.Unlock()
}

func (t *healthTracker) connected(at time.Time) {
	t.mu.Lock()
	t.h.State = StateConnected
	t.h.Reason = ""
	t.h.ConnectedAt = at
	t.mu.Unlock()
}

func (t *healthTracker) failed(reason string) {
	t.mu.Lock()
	t.h.State = StateError
	t.h.Reason = reason
	t.h.ErrorCount++
	t.mu.Unlock()
}

func (t *healthTracker) messageSent() {
	t.mu.Lock()
	t.h.MessageCount++
	t.mu.Unlock()
}

func (t *healthTracker) errorSeen() {
	t.mu.Lock()
	t.h.ErrorCount++
	t.mu.Unlock()
}

func (t *healthTracker) heartbeat(at time.Time) {
	t.mu.Lock()
	t.h.LastHeartbeat = at
	t.mu.Unlock()
}

func (t *healthTracker) observeLatency(d time.Duration) {
	t.mu.Lock()
	t.h.Latency = d
	t.mu.Unlock()
}
