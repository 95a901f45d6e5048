package connection

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// tlsStepTimeout bounds each TLS read or write step so the cooperative
// scheduler is never blocked inside the record layer. A deadline hit
// surfaces as ErrTryAgain and the operation resumes on the next step.
const tlsStepTimeout = 5 * time.Millisecond

type tlsConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// TLSContext holds the server-side TLS configuration shared by all
// TLS-enabled listeners. A nil context degrades listeners to plaintext.
type TLSContext struct {
	cfg *tls.Config
}

// NewTLSContext builds a server context from a combined cert/key PEM file
// and a colon-separated cipher list. Unknown cipher names are skipped; an
// empty result falls back to the library defaults.
func NewTLSContext(certFile, cipherList string) (*TLSContext, error) {
	if certFile == "" {
		return nil, errors.New("connection: no certificate configured")
	}
	cert, err := tls.LoadX509KeyPair(certFile, certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if suites := parseCipherList(cipherList); len(suites) > 0 {
		cfg.CipherSuites = suites
	}
	return &TLSContext{cfg: cfg}, nil
}

// parseCipherList resolves colon-separated cipher suite names against the
// suites this library implements.
func parseCipherList(list string) []uint16 {
	var out []uint16
	for _, name := range strings.Split(list, ":") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, cs := range tls.CipherSuites() {
			if strings.EqualFold(cs.Name, name) {
				out = append(out, cs.ID)
				break
			}
		}
	}
	return out
}

// UseTLS wraps the connection for server-side TLS. The descriptor moves
// into the runtime poller; subsequent I/O goes through the record layer
// with per-step deadlines supplying the try-again semantics.
func (c *Connection) UseTLS(ctx *TLSContext) error {
	f := os.NewFile(uintptr(c.Fd), "tls-conn")
	nc, err := net.FileConn(f)
	// FileConn duplicated the descriptor; the original closes with f.
	f.Close()
	if err != nil {
		c.Fd = -1
		return fmt.Errorf("failed to wrap connection for TLS: %w", err)
	}
	c.Fd = -1
	c.tlsConn = tls.Server(nc, ctx.cfg)
	return nil
}

func (c *Connection) tlsRead(p []byte) (int, error) {
	c.tlsConn.SetReadDeadline(time.Now().Add(tlsStepTimeout))
	n, err := c.tlsConn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if n > 0 {
				return n, nil
			}
			return 0, ErrTryAgain
		}
		c.Error = true
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}
	if n == 0 {
		c.Error = true
		return 0, io.EOF
	}
	return n, nil
}

func (c *Connection) tlsSend(p []byte) (int, error) {
	c.tlsConn.SetWriteDeadline(time.Now().Add(tlsStepTimeout))
	n, err := c.tlsConn.Write(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) && n == 0 {
			return 0, ErrTryAgain
		}
		if n == 0 {
			c.Error = true
			return 0, err
		}
	}
	c.SentBytes += uint64(n)
	return n, nil
}

// tlsSendv writes vector entries sequentially, stopping on any short
// write. Byte accounting happens in the caller.
func (c *Connection) tlsSendv(iov [][]byte) (int, error) {
	bytes := 0
	for _, p := range iov {
		c.tlsConn.SetWriteDeadline(time.Now().Add(tlsStepTimeout))
		n, err := c.tlsConn.Write(p)
		bytes += n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			c.Error = true
			if bytes == 0 {
				return 0, err
			}
			break
		}
		if n < len(p) {
			break
		}
	}
	if bytes == 0 {
		return 0, ErrTryAgain
	}
	return bytes, nil
}
