package client

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"streamgate/internal/refbuf"
)

func TestFlags(t *testing.T) {
	c := &Client{}
	c.SetFlag(FlagKeepalive | FlagWantsFLV)
	if !c.HasFlag(FlagKeepalive) || !c.HasFlag(FlagWantsFLV) {
		t.Error("flags not set")
	}
	c.ClearFlag(FlagKeepalive)
	if c.HasFlag(FlagKeepalive) {
		t.Error("flag not cleared")
	}
	if !c.HasFlag(FlagWantsFLV) {
		t.Error("unrelated flag cleared")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a, b := &Client{}, &Client{}

	reg.Register(a)
	reg.Register(b)
	if reg.Count() != 2 {
		t.Errorf("expected 2 clients, got %d", reg.Count())
	}

	reg.Unregister(a)
	if reg.Count() != 1 {
		t.Errorf("expected 1 client, got %d", reg.Count())
	}
}

func TestServerConnRefcount(t *testing.T) {
	sc := &ServerConn{Port: 8000}
	sc.Retain()
	sc.Retain()
	if sc.Refcount() != 2 {
		t.Errorf("expected refcount 2, got %d", sc.Refcount())
	}
	sc.Release()
	if sc.Refcount() != 1 {
		t.Errorf("expected refcount 1, got %d", sc.Refcount())
	}
}

func TestSendResponseReplacesBuffers(t *testing.T) {
	c := &Client{SharedData: refbuf.NewRequest(64)}
	c.Send401()

	if c.SharedData != nil {
		t.Error("request buffer must be released on response")
	}
	if c.State != StateSendResponse {
		t.Errorf("expected response state, got %v", c.State)
	}
	if c.Respcode != 401 {
		t.Errorf("expected 401, got %d", c.Respcode)
	}
	body := string(c.Refbuf.Bytes())
	if !strings.HasPrefix(body, "HTTP/1.0 401") {
		t.Errorf("unexpected status line: %q", body)
	}
	if !strings.Contains(body, "WWW-Authenticate: Basic") {
		t.Error("401 must carry a challenge")
	}
	if !strings.HasSuffix(body, "\r\n\r\n") {
		t.Error("401 must carry no body")
	}
}

func TestWriteBuffer(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	defer unix.Close(fds[1])
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
	}

	c := &Client{}
	c.Connection.Fd = fds[0]
	c.Send403("Too many clients connected")

	done, err := c.WriteBuffer()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !done {
		t.Fatal("short write on empty socket buffer")
	}

	buf := make([]byte, 4096)
	n, err := unix.Read(fds[1], buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, "HTTP/1.0 403") {
		t.Errorf("unexpected response: %q", got)
	}
	if !strings.Contains(got, "Too many clients connected") {
		t.Error("response body missing")
	}

	c.Destroy(nil)
	if c.Refbuf != nil {
		t.Error("destroy must release the response buffer")
	}
}
