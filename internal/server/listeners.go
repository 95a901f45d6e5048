package server

import (
	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/sock"
)

// privilegedPort is the bound below which listening sockets may be
// retained across a configuration reload.
const privilegedPort = 1024

// setupSockets opens listening sockets for every configured endpoint not
// already open. Endpoints that fail to open are logged and skipped; the
// return is the number of open listeners.
func (s *Server) setupSockets(cfg *config.Config) int {
	for _, lc := range cfg.Listeners {
		if s.findListener(lc.Port, lc.BindAddress) >= 0 {
			continue
		}
		fd, err := sock.NewServerSocket(lc.Port, lc.BindAddress, lc.SoSndbuf, lc.SoMss, lc.Backlog)
		if err != nil {
			s.log.Error("could not create listener socket", map[string]interface{}{
				"port": lc.Port, "bind": lc.BindAddress, "error": err.Error(),
			})
			continue
		}
		s.serversock = append(s.serversock, fd)
		s.serverConn = append(s.serverConn, &client.ServerConn{
			Port:            lc.Port,
			BindAddress:     lc.BindAddress,
			TLS:             lc.TLS,
			ShoutcastCompat: lc.ShoutcastCompat,
			ShoutcastMount:  lc.ShoutcastMount,
		})
		s.log.Info("listener socket open", map[string]interface{}{
			"port": lc.Port, "bind": lc.BindAddress,
		})
	}
	count := len(s.serversock)
	s.metrics.SetListeners(count)
	if count > 0 {
		s.log.Info("listening sockets setup complete", map[string]interface{}{"count": count})
	}
	return count
}

func (s *Server) findListener(port int, bind string) int {
	for i, sc := range s.serverConn {
		if sc.Port == port && sc.BindAddress == bind {
			return i
		}
	}
	return -1
}

// closeSockets closes listening sockets. With all set, everything goes.
// Otherwise sockets on privileged ports whose (port, bind address) still
// appears in newCfg stay open, so a reload does not give up a port the
// process could not re-acquire unprivileged.
func (s *Server) closeSockets(newCfg *config.Config, all bool) {
	kept := 0
	for i := range s.serversock {
		if newCfg != nil && !all && s.serverConn[i].Port < privilegedPort &&
			listenerConfigured(newCfg, s.serverConn[i].Port, s.serverConn[i].BindAddress) {
			s.log.Info("leaving port open", map[string]interface{}{
				"port": s.serverConn[i].Port, "bind": s.serverConn[i].BindAddress,
			})
			s.serversock[kept] = s.serversock[i]
			s.serverConn[kept] = s.serverConn[i]
			kept++
			continue
		}
		s.log.Info("closing port", map[string]interface{}{
			"port": s.serverConn[i].Port, "bind": s.serverConn[i].BindAddress,
		})
		sock.Close(s.serversock[i])
	}
	s.serversock = s.serversock[:kept]
	s.serverConn = s.serverConn[:kept]
	s.metrics.SetListeners(kept)
}

func listenerConfigured(cfg *config.Config, port int, bind string) bool {
	for _, lc := range cfg.Listeners {
		if lc.Port == port && lc.BindAddress == bind {
			return true
		}
	}
	return false
}

// dropListener removes a failed listening socket and compacts the
// listener arrays in place.
func (s *Server) dropListener(fd int) {
	sock.Close(fd)
	kept := 0
	for i := range s.serversock {
		if s.serversock[i] == fd {
			continue
		}
		s.serversock[kept] = s.serversock[i]
		s.serverConn[kept] = s.serverConn[i]
		kept++
	}
	s.serversock = s.serversock[:kept]
	s.serverConn = s.serverConn[:kept]
	s.metrics.SetListeners(kept)
}
