// Package stats aggregates operational counters for the ingestion path:
// global totals plus per-connection entries. All mutation is atomic so the
// hot path never takes a lock; the connection table itself is guarded by a
// mutex but is only touched on connection open/close.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection holds the counters owned by a single connection worker.
type Connection struct {
	ID        string
	Remote    string
	StartedAt time.Time

	commands atomic.Int64
	bytes    atomic.Int64
}

// Commands returns the number of commands processed on this connection.
func (c *Connection) Commands() int64 { return c.commands.Load() }

// Bytes returns the number of bytes read on this connection.
func (c *Connection) Bytes() int64 { return c.bytes.Load() }

// Aggregator tracks global and per-connection counters.
type Aggregator struct {
	pixelsSet      atomic.Int64
	commands       atomic.Int64
	bytesRead      atomic.Int64
	protocolErrors atomic.Int64

	connectionsTotal    atomic.Int64
	connectionsActive   atomic.Int64
	connectionsRejected atomic.Int64

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		conns: make(map[string]*Connection),
	}
}

// OpenConnection registers a new connection and returns its entry. Bumps the
// total and active connection counters.
func (a *Aggregator) OpenConnection(remote string) *Connection {
	entry := &Connection{
		ID:        uuid.NewString(),
		Remote:    remote,
		StartedAt: time.Now(),
	}

	a.mu.Lock()
	a.conns[entry.ID] = entry
	a.mu.Unlock()

	a.connectionsTotal.Add(1)
	a.connectionsActive.Add(1)
	return entry
}

// CloseConnection finalizes a connection entry and decrements the active
// counter. Closing an unknown id is a no-op.
func (a *Aggregator) CloseConnection(id string) {
	a.mu.Lock()
	_, ok := a.conns[id]
	if ok {
		delete(a.conns, id)
	}
	a.mu.Unlock()

	if ok {
		a.connectionsActive.Add(-1)
	}
}

// RecordRejected counts a connection refused by the connection cap.
func (a *Aggregator) RecordRejected() {
	a.connectionsTotal.Add(1)
	a.connectionsRejected.Add(1)
}

// RecordCommands adds n processed commands to the connection and the global
// total.
func (a *Aggregator) RecordCommands(c *Connection, n int64) {
	if n == 0 {
		return
	}
	c.commands.Add(n)
	a.commands.Add(n)
}

// RecordBytes adds n read bytes to the connection and the global total.
func (a *Aggregator) RecordBytes(c *Connection, n int64) {
	if n == 0 {
		return
	}
	c.bytes.Add(n)
	a.bytesRead.Add(n)
}

// RecordPixels adds n set pixels to the global total.
func (a *Aggregator) RecordPixels(n int64) {
	if n != 0 {
		a.pixelsSet.Add(n)
	}
}

// RecordProtocolErrors adds n skipped/unrecognized lines to the global total.
func (a *Aggregator) RecordProtocolErrors(n int64) {
	if n != 0 {
		a.protocolErrors.Add(n)
	}
}

// PixelsSet returns the global pixels-set total.
func (a *Aggregator) PixelsSet() int64 { return a.pixelsSet.Load() }

// ActiveConnections returns the number of currently open connections.
func (a *Aggregator) ActiveConnections() int64 { return a.connectionsActive.Load() }

// ConnectionSnapshot is a point-in-time view of one connection's counters.
type ConnectionSnapshot struct {
	ID        string        `json:"id"`
	Remote    string        `json:"remote"`
	Commands  int64         `json:"commands"`
	Bytes     int64         `json:"bytes"`
	Connected time.Duration `json:"connected"`
}

// Snapshot is a point-in-time view of all counters for export. Counters are
// read individually with atomic loads; the snapshot as a whole is
// consistent-enough, not transactional.
type Snapshot struct {
	PixelsSet           int64                `json:"pixels_set"`
	Commands            int64                `json:"commands"`
	BytesRead           int64                `json:"bytes_read"`
	ProtocolErrors      int64                `json:"protocol_errors"`
	ConnectionsTotal    int64                `json:"connections_total"`
	ConnectionsActive   int64                `json:"connections_active"`
	ConnectionsRejected int64                `json:"connections_rejected"`
	Connections         []ConnectionSnapshot `json:"connections,omitempty"`
}

// Snapshot returns the current counter values. Never blocks a writer.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{
		PixelsSet:           a.pixelsSet.Load(),
		Commands:            a.commands.Load(),
		BytesRead:           a.bytesRead.Load(),
		ProtocolErrors:      a.protocolErrors.Load(),
		ConnectionsTotal:    a.connectionsTotal.Load(),
		ConnectionsActive:   a.connectionsActive.Load(),
		ConnectionsRejected: a.connectionsRejected.Load(),
	}

	now := time.Now()
	a.mu.RLock()
	snap.Connections = make([]ConnectionSnapshot, 0, len(a.conns))
	for _, c := range a.conns {
		snap.Connections = append(snap.Connections, ConnectionSnapshot{
			ID:        c.ID,
			Remote:    c.Remote,
			Commands:  c.Commands(),
			Bytes:     c.Bytes(),
			Connected: now.Sub(c.StartedAt),
		})
	}
	a.mu.RUnlock()

	return snap
}
