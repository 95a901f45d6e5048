// Package sock provides the raw, non-blocking TCP primitives the accept
// loop is built on: listener sockets with per-endpoint options, readiness
// polling over a listener set, and peer address normalization.
package sock

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrSock marks an invalid socket slot.
const ErrSock = -1

// NewServerSocket opens a non-blocking listening socket on port,
// optionally bound to addr, with the requested socket options applied
// before listen.
func NewServerSocket(port int, addr string, sndbuf, mss, backlog int) (int, error) {
	family := unix.AF_INET
	var ip net.IP
	if addr != "" {
		ip = net.ParseIP(addr)
		if ip == nil {
			return ErrSock, fmt.Errorf("invalid bind address %q", addr)
		}
		if ip.To4() == nil {
			family = unix.AF_INET6
		}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return ErrSock, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return ErrSock, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if sndbuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf); err != nil {
			unix.Close(fd)
			return ErrSock, fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
	}
	if mss > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_MAXSEG, mss); err != nil {
			unix.Close(fd)
			return ErrSock, fmt.Errorf("setsockopt TCP_MAXSEG: %w", err)
		}
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET6 {
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: port}
		if ip != nil {
			copy(sa4.Addr[:], ip.To4())
		}
		sa = sa4
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return ErrSock, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return ErrSock, fmt.Errorf("listen port %d: %w", port, err)
	}
	return fd, nil
}

// Port returns the local port a socket is bound to.
func Port(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, fmt.Errorf("unexpected sockaddr type")
}

// Accept accepts one connection, returning a non-blocking descriptor and
// the normalized peer IP.
func Accept(fd int) (int, string, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return ErrSock, "", err
	}
	return nfd, NormalizeIP(peerIP(sa)), nil
}

func peerIP(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	}
	return "unknown"
}

// NormalizeIP strips one IPv4-mapped prefix from an address string.
func NormalizeIP(addr string) string {
	return strings.TrimPrefix(addr, "::ffff:")
}

// Recoverable reports whether a socket error means "try again later"
// rather than a dead connection.
func Recoverable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) || errors.Is(err, unix.EINPROGRESS)
}

// SetCork enables or disables TCP_CORK.
func SetCork(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, v)
}

// SetNoDelay enables TCP_NODELAY.
func SetNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// Close closes a descriptor, ignoring the invalid slot marker.
func Close(fd int) {
	if fd != ErrSock {
		unix.Close(fd)
	}
}
