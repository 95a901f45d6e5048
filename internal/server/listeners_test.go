package server

import (
	"testing"

	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/sock"
)

func openTestListeners(t *testing.T, s *Server, ports []int) []int {
	t.Helper()
	fds := make([]int, 0, len(ports))
	for _, port := range ports {
		fd, err := sock.NewServerSocket(0, "127.0.0.1", 0, 0, 5)
		if err != nil {
			t.Fatalf("failed to open listener: %v", err)
		}
		s.serversock = append(s.serversock, fd)
		s.serverConn = append(s.serverConn, &client.ServerConn{Port: port, BindAddress: "0.0.0.0"})
		fds = append(fds, fd)
	}
	t.Cleanup(func() { s.closeSockets(nil, true) })
	return fds
}

func TestSetupSockets(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	cfg := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 0, BindAddress: "127.0.0.1", Backlog: 5},
	}}
	if n := s.setupSockets(cfg); n != 1 {
		t.Fatalf("expected 1 listener, got %d", n)
	}
	defer s.closeSockets(nil, true)

	// reapplying the same config opens nothing new
	cfg2 := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 0, BindAddress: "127.0.0.1", Backlog: 5},
	}}
	if n := s.setupSockets(cfg2); n != 1 {
		t.Errorf("expected listener reuse, got %d", n)
	}
}

func TestSetupSocketsSkipsFailures(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	cfg := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 0, BindAddress: "not-an-address", Backlog: 5},
		{Port: 0, BindAddress: "127.0.0.1", Backlog: 5},
	}}
	if n := s.setupSockets(cfg); n != 1 {
		t.Errorf("expected the bad listener skipped, got %d listeners", n)
	}
	s.closeSockets(nil, true)
}

func TestRetainPrivilegedPort(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	fds := openTestListeners(t, s, []int{80, 8000})

	newCfg := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 80, BindAddress: "0.0.0.0"},
	}}
	s.closeSockets(newCfg, false)

	if len(s.serversock) != 1 {
		t.Fatalf("expected 1 retained listener, got %d", len(s.serversock))
	}
	// the retained privileged socket keeps its descriptor
	if s.serversock[0] != fds[0] {
		t.Errorf("expected fd %d retained, got %d", fds[0], s.serversock[0])
	}
	if s.serverConn[0].Port != 80 {
		t.Errorf("expected port 80 retained, got %d", s.serverConn[0].Port)
	}
}

func TestRetainRequiresMatchingBind(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	openTestListeners(t, s, []int{80})

	// same port, different bind address: no retention
	newCfg := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 80, BindAddress: "192.168.1.1"},
	}}
	s.closeSockets(newCfg, false)

	if len(s.serversock) != 0 {
		t.Errorf("expected no listeners retained, got %d", len(s.serversock))
	}
}

func TestUnprivilegedNeverRetained(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	openTestListeners(t, s, []int{8000})

	newCfg := &config.Config{Listeners: []config.ListenerConfig{
		{Port: 8000, BindAddress: "0.0.0.0"},
	}}
	s.closeSockets(newCfg, false)

	if len(s.serversock) != 0 {
		t.Errorf("unprivileged ports must always close on reload, got %d retained", len(s.serversock))
	}
}

func TestDropListenerCompacts(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &config.Config{}, rec)

	fds := openTestListeners(t, s, []int{81, 82, 83})
	s.dropListener(fds[1])

	if len(s.serversock) != 2 {
		t.Fatalf("expected 2 listeners after drop, got %d", len(s.serversock))
	}
	if s.serversock[0] != fds[0] || s.serversock[1] != fds[2] {
		t.Error("listener array not compacted in place")
	}
	if s.serverConn[0].Port != 81 || s.serverConn[1].Port != 83 {
		t.Error("listener attributes out of sync after compaction")
	}
}
