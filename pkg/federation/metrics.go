package federation

import (
	"maps"
	"sync"
	"time"
)

// Metrics is a snapshot of federation counters.
type Metrics struct {
	ActiveConnections  int               `json:"activeConnections"`
	TotalServers       int               `json:"totalServers"`
	ToolCallsForwarded uint64            `json:"toolCallsForwarded"`
	FederationErrors   uint64            `json:"federationErrors"`
	BackendFailures    map[string]uint64 `json:"backendFailures"`
	OpenCircuits       int               `json:"openCircuits"`
	CircuitOpenSkips   uint64            `json:"circuitOpenSkips"`
	CircuitsOpened     uint64            `json:"circuitsOpened"`
	CacheSkips         uint64            `json:"cacheSkips"`
	LastSync           time.Time         `json:"lastSync,omitzero"`
	LastSyncDuration   time.Duration     `json:"lastSyncDuration"`
	LastSyncTools      int               `json:"lastSyncTools"`
}

// metricsState holds the mutable counters. Updates happen after the event
// they describe, under mu.
type metricsState struct {
	mu sync.Mutex
	m  Metrics
}

func newMetricsState() *metricsState {
	return &metricsState{m: Metrics{BackendFailures: make(map[string]uint64)}}
}

func (s *metricsState) update(fn func(*Metrics)) {
	s.mu.Lock()
	fn(&s.m)
	s.mu.Unlock()
}

func (s *metricsState) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.m
	out.BackendFailures = maps.Clone(s.m.BackendFailures)
	return out
}

func (s *metricsState) backendFailure(id string) {
	s.update(func(m *Metrics) { m.BackendFailures[id]++ })
}
