// Package client holds the per-connection client object handed from the
// accept loop to a worker, plus the registry tracking all live clients.
package client

import (
	"sync"
	"sync/atomic"

	"streamgate/internal/connection"
	"streamgate/internal/httpp"
	"streamgate/internal/refbuf"
)

// Client flags.
const (
	FlagActive = 1 << iota
	FlagKeepalive
	FlagWantsFLV
	FlagSkipAccessLog
)

// State selects the step function that drives the client. The accept
// loop picks the initial state from the listener attributes; every later
// transition happens inside a step.
type State int

const (
	StateRequestRead State = iota
	StateShoutcastIntro
	StateGetHandler
	StateSourceSetup
	StateSourceHandler
	StateStatsHandler
	StateSendResponse
)

// Worker drives a client after handoff. The accept loop only enqueues;
// all subsequent I/O happens on the worker.
type Worker interface {
	// CurrentTime is the worker's time in unix seconds.
	CurrentTime() int64
	// TimeMS is the worker's time in milliseconds.
	TimeMS() int64
	// Enqueue hands a client to the pool. Ownership transfers.
	Enqueue(c *Client)
}

// ServerConn carries the listener attributes shared by every client
// accepted on that listener. It is refcounted so listener teardown can
// wait for its clients.
type ServerConn struct {
	Port            int
	BindAddress     string
	TLS             bool
	ShoutcastCompat bool
	ShoutcastMount  string

	refs atomic.Int32
}

// Retain notes one more client on this listener.
func (sc *ServerConn) Retain() { sc.refs.Add(1) }

// Release drops one client reference.
func (sc *ServerConn) Release() { sc.refs.Add(-1) }

// Refcount returns the number of clients still attached.
func (sc *ServerConn) Refcount() int { return int(sc.refs.Load()) }

// Client is one accepted connection plus its request state.
type Client struct {
	Connection connection.Connection

	// SharedData is the in-progress request buffer while assembling a
	// request; Refbuf is the active response or promoted buffer. A
	// client in request-assembly state has Refbuf == nil.
	SharedData *refbuf.Refbuf
	Refbuf     *refbuf.Refbuf

	Parser *httpp.Parser

	State State
	Flags uint32

	Respcode int
	// Pos is the write position within Refbuf.
	Pos int
	// ScheduleMS is the next wake time in worker milliseconds.
	ScheduleMS int64
	// Counter is a state-scoped timestamp; request assembly uses it for
	// read backoff.
	Counter int64

	Worker     Worker
	ServerConn *ServerConn

	// Continue100 marks a source setup that still owes the client a
	// 100 Continue response.
	Continue100 bool
}

// HasFlag reports whether all given flag bits are set.
func (c *Client) HasFlag(f uint32) bool { return c.Flags&f == f }

// SetFlag sets flag bits.
func (c *Client) SetFlag(f uint32) { c.Flags |= f }

// ClearFlag clears flag bits.
func (c *Client) ClearFlag(f uint32) { c.Flags &^= f }

// Destroy releases everything the client owns. The current owner calls
// it: the worker after a fatal step, a terminal collaborator that took
// the client over, or the accept loop when setup fails.
func (c *Client) Destroy(reg *Registry) {
	if c.SharedData != nil {
		refbuf.Release(c.SharedData)
		c.SharedData = nil
	}
	if c.Refbuf != nil {
		refbuf.Release(c.Refbuf)
		c.Refbuf = nil
	}
	if c.ServerConn != nil {
		c.ServerConn.Release()
		c.ServerConn = nil
	}
	c.Connection.Close()
	if reg != nil {
		reg.Unregister(c)
	}
	c.ClearFlag(FlagActive)
}

// Registry is the global set of live clients, guarded by one mutex.
type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]struct{})}
}

// Register adds a client.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes a client.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// Count returns the number of live clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
