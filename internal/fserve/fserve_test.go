package fserve

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"streamgate/internal/client"
	"streamgate/internal/logging"
)

func testClient(t *testing.T) (*client.Client, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })

	c := &client.Client{}
	c.Connection.Fd = fds[0]
	return c, fds[1]
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 8192)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			return string(buf[:n])
		}
		if err != nil && err != unix.EAGAIN {
			return ""
		}
		time.Sleep(time.Millisecond)
	}
	return ""
}

func newHandler(t *testing.T, mounts map[string]string) *Handler {
	logger, _ := logging.New(logging.Config{Level: "error", Output: "stderr"})
	return New(Config{Mounts: mounts, Registry: client.NewRegistry(), Logger: logger})
}

func TestDefaultFlashPolicy(t *testing.T) {
	h := newHandler(t, nil)
	c, remote := testClient(t)

	h.ServeFile(c, "/flashpolicy")

	got := readAll(t, remote)
	if !strings.Contains(got, "<cross-domain-policy>") {
		t.Errorf("expected policy document, got %q", got)
	}
	if strings.HasPrefix(got, "HTTP/") {
		t.Error("policy document must go out raw, not as HTTP")
	}
	if !strings.HasSuffix(got, "\x00") {
		t.Error("policy document must be NUL terminated")
	}
}

func TestConfiguredMount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.xml")
	if err := os.WriteFile(path, []byte("<custom/>\x00"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	h := newHandler(t, map[string]string{"/flashpolicy": path})
	c, remote := testClient(t)

	h.ServeFile(c, "/flashpolicy")

	if got := readAll(t, remote); got != "<custom/>\x00" {
		t.Errorf("expected configured policy, got %q", got)
	}
}

func TestUnknownMount(t *testing.T) {
	h := newHandler(t, nil)
	c, remote := testClient(t)

	h.ServeFile(c, "/nope")

	if got := readAll(t, remote); !strings.HasPrefix(got, "HTTP/1.0 404") {
		t.Errorf("expected 404, got %q", got)
	}
}
