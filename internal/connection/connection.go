// Package connection wraps an accepted socket with an identity, byte
// accounting and a uniform send path that works over plaintext and TLS.
package connection

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"streamgate/internal/sock"
)

// ErrTryAgain reports a recoverable socket condition; the caller should
// reschedule the same operation.
var ErrTryAgain = errors.New("connection: try again")

var currentID atomic.Uint64

// nextID returns a process-wide monotonically increasing connection ID.
func nextID() uint64 {
	return currentID.Add(1) - 1
}

// Connection is the transport state of one accepted client.
type Connection struct {
	Fd int
	ID uint64
	// IP is the peer address with any IPv4-mapped prefix stripped.
	IP        string
	SentBytes uint64
	// Error is set on any non-recoverable transport failure; the worker
	// observes it after the current step returns.
	Error bool
	// ConTime is the accept time in unix seconds.
	ConTime int64
	// DisconTime is the deadline in unix seconds after which the request
	// state machine drops the client. Request parsing resets it to zero
	// once the header block is complete; the request-read and shoutcast
	// steps treat zero, like any value not after now, as expired.
	DisconTime int64

	tlsConn tlsConn
}

// Init attaches an accepted descriptor to a connection and assigns the
// next ID. addr may already carry the peer address; otherwise it is
// resolved from the socket.
func Init(c *Connection, fd int, addr string) error {
	if fd == sock.ErrSock {
		return errors.New("connection: invalid socket")
	}
	c.Fd = fd
	c.ID = nextID()
	if addr == "" {
		sa, err := unix.Getpeername(fd)
		if err != nil {
			return err
		}
		addr = peerString(sa)
	}
	c.IP = sock.NormalizeIP(addr)
	return nil
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	}
	return "unknown"
}

// Read reads available bytes without blocking. A closed peer or fatal
// error sets the Error flag; ErrTryAgain means no data yet.
func (c *Connection) Read(p []byte) (int, error) {
	if c.tlsConn != nil {
		return c.tlsRead(p)
	}
	n, err := unix.Read(c.Fd, p)
	if err != nil {
		if sock.Recoverable(err) {
			return 0, ErrTryAgain
		}
		c.Error = true
		return 0, err
	}
	if n == 0 {
		c.Error = true
		return 0, io.EOF
	}
	return n, nil
}

// Send writes bytes without blocking, accounting them in SentBytes.
func (c *Connection) Send(p []byte) (int, error) {
	if c.tlsConn != nil {
		return c.tlsSend(p)
	}
	n, err := unix.Write(c.Fd, p)
	if err != nil {
		if sock.Recoverable(err) {
			return 0, ErrTryAgain
		}
		c.Error = true
		return 0, err
	}
	c.SentBytes += uint64(n)
	return n, nil
}

// Close releases the transport. The connection is unusable afterwards.
func (c *Connection) Close() {
	if c.tlsConn != nil {
		c.tlsConn.Close()
		c.tlsConn = nil
		c.Fd = sock.ErrSock
		return
	}
	sock.Close(c.Fd)
	c.Fd = sock.ErrSock
}
