// Package metrics tracks connection front-end counters and exposes them
// as a JSON snapshot for the admin surface.
package metrics

import (
	"encoding/json"
	"sync"
)

// Metrics collects counters for the accept loop and dispatchers.
type Metrics struct {
	mu sync.Mutex

	connections       uint64
	clientConnections uint64
	sourceConnections uint64
	refused           uint64
	bannedIPs         int
	listeners         int
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Connections       uint64 `json:"connections"`
	ClientConnections uint64 `json:"client_connections"`
	SourceConnections uint64 `json:"source_connections"`
	Refused           uint64 `json:"refused"`
	BannedIPs         int    `json:"banned_ips"`
	Listeners         int    `json:"listeners"`
}

// New creates a metrics collector.
func New() *Metrics {
	return &Metrics{}
}

// RecordConnection counts one accepted connection.
func (m *Metrics) RecordConnection() {
	m.mu.Lock()
	m.connections++
	m.mu.Unlock()
}

// RecordClientConnection counts one GET or HEAD request reaching the GET
// handler, admin and limit-refused requests included.
func (m *Metrics) RecordClientConnection() {
	m.mu.Lock()
	m.clientConnections++
	m.mu.Unlock()
}

// RecordSourceConnection counts one dispatched source request.
func (m *Metrics) RecordSourceConnection() {
	m.mu.Lock()
	m.sourceConnections++
	m.mu.Unlock()
}

// RecordRefused counts one connection refused at admission.
func (m *Metrics) RecordRefused() {
	m.mu.Lock()
	m.refused++
	m.mu.Unlock()
}

// SetBannedIPs publishes the current ban-list size.
func (m *Metrics) SetBannedIPs(n int) {
	m.mu.Lock()
	m.bannedIPs = n
	m.mu.Unlock()
}

// SetListeners publishes the number of open listening sockets.
func (m *Metrics) SetListeners(n int) {
	m.mu.Lock()
	m.listeners = n
	m.mu.Unlock()
}

// GetSnapshot returns a copy of all counters.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Connections:       m.connections,
		ClientConnections: m.clientConnections,
		SourceConnections: m.sourceConnections,
		Refused:           m.refused,
		BannedIPs:         m.bannedIPs,
		Listeners:         m.listeners,
	}
}

// SnapshotJSON renders the snapshot for the admin surface.
func (m *Metrics) SnapshotJSON() []byte {
	data, err := json.Marshal(m.GetSnapshot())
	if err != nil {
		return []byte("{}")
	}
	return data
}
