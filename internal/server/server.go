// Package server implements the connection front-end: the accept loop
// over the configured listeners, admission control, the per-client
// request state machine and the handoff to terminal handlers.
package server

import (
	"sync/atomic"
	"time"

	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/connection"
	"streamgate/internal/filter"
	"streamgate/internal/logging"
	"streamgate/internal/metrics"
	"streamgate/internal/refbuf"
	"streamgate/internal/sock"
)

// Stats listener attachment modes.
const (
	StatsAll = 1 << iota
	StatsSlave
	StatsGeneral
)

// FileServer serves a canned file mount to a client that bypassed
// request parsing, such as the Flash policy probe.
type FileServer interface {
	// ServeFile takes ownership of the client.
	ServeFile(c *client.Client, mount string)
}

// SourceHandler receives authenticated source clients. The client's
// Refbuf, when non-nil, holds stream bytes that arrived with the request
// headers; the handler must consume it before reading the socket.
type SourceHandler interface {
	// Startup takes ownership of the client.
	Startup(c *client.Client, mount string)
}

// AuthHandler is the authentication collaborator.
type AuthHandler interface {
	// PreCheck runs the HTTP authentication pre-check after header
	// parsing, before dispatch.
	PreCheck(c *client.Client)
	// CheckSource verifies source credentials for a mount. It returns
	// 0 on success, 1 when the decision is pending and the handler has
	// taken ownership of the client, and any other value on failure.
	CheckSource(c *client.Client, mount string) int
	// AddListener attaches a listener client to a mount, taking
	// ownership.
	AddListener(mount string, c *client.Client)
}

// StatsHandler receives stats feed clients.
type StatsHandler interface {
	// AddListener takes ownership of the client.
	AddListener(c *client.Client, flags int)
}

// AdminHandler receives requests under the admin prefix.
type AdminHandler interface {
	// HandleRequest takes ownership of the client.
	HandleRequest(c *client.Client, uri string)
}

// Handlers bundles the terminal collaborators.
type Handlers struct {
	FileServer FileServer
	Source     SourceHandler
	Auth       AuthHandler
	Stats      StatsHandler
	Admin      AdminHandler
}

// Config wires a Server.
type Config struct {
	Store    *config.Store
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Filters  *filter.Store
	Registry *client.Registry
	Workers  client.Worker
	Handlers Handlers
	// ReloadFunc re-reads the configuration on SIGHUP. A nil func
	// disables reload.
	ReloadFunc func() (*config.Config, error)
}

// Server owns the accept thread and the request state machine.
type Server struct {
	cfg      *config.Store
	log      *logging.Logger
	metrics  *metrics.Metrics
	filters  *filter.Store
	registry *client.Registry
	workers  client.Worker
	handlers Handlers
	reloadFn func() (*config.Config, error)

	tlsCtx *connection.TLSContext

	serversock []int
	serverConn []*client.ServerConn

	headerTimeout int64

	sigfd    int
	fallback <-chan sock.ControlEvent

	running atomic.Bool
	done    chan struct{}
}

// New creates a Server. Listeners open when Run starts.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg.Store,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		filters:  cfg.Filters,
		registry: cfg.Registry,
		workers:  cfg.Workers,
		handlers: cfg.Handlers,
		reloadFn: cfg.ReloadFunc,
		sigfd:    sock.ErrSock,
		done:     make(chan struct{}),
	}
}

// Run executes the accept loop until Shutdown or a termination signal.
// It owns listener setup and teardown and never performs client I/O.
func (s *Server) Run() {
	defer close(s.done)

	s.sigfd = sock.NewSignalFD()
	if s.sigfd == sock.ErrSock {
		s.fallback = sock.FallbackSignals()
	}

	cfg := s.cfg.Get()
	if tlsCtx, err := connection.NewTLSContext(cfg.CertFile, cfg.CipherList); err == nil {
		s.tlsCtx = tlsCtx
		s.log.Info("TLS certificate loaded", map[string]interface{}{"cert": cfg.CertFile})
	} else {
		s.log.Info("no TLS capability on any configured ports", nil)
	}

	if s.setupSockets(cfg) == 0 {
		s.log.Error("no listening sockets established", nil)
		return
	}
	s.headerTimeout = int64(cfg.HeaderTimeout)

	s.running.Store(true)
	s.log.Info("connection thread started", nil)

	for s.running.Load() {
		if c := s.acceptClient(); c != nil {
			// small delay so the client has a chance to send the
			// request right after connecting
			nowMS := time.Now().UnixMilli()
			c.Counter = nowMS
			c.ScheduleMS = nowMS + 6
			c.Connection.ConTime = nowMS / 1000
			c.Connection.DisconTime = c.Connection.ConTime + s.headerTimeout
			s.workers.Enqueue(c)
			s.metrics.RecordConnection()
			s.metrics.SetBannedIPs(s.filters.BannedCount())
		}
		s.drainFallback()
		if slowdown := s.cfg.Get().Slowdown; slowdown > 0 {
			time.Sleep(time.Duration(slowdown) * 5 * time.Millisecond)
		}
	}

	s.closeSockets(nil, true)
	s.filters.Close()
	sock.Close(s.sigfd)
	s.log.Info("connection thread finished", nil)
}

// Shutdown asks the accept loop to stop; it returns once the loop has
// released its resources.
func (s *Server) Shutdown() {
	s.running.Store(false)
	<-s.done
}

func (s *Server) control(ev sock.ControlEvent) {
	switch ev {
	case sock.EventTerminate:
		s.log.Info("termination requested", nil)
		s.running.Store(false)
	case sock.EventReload:
		s.log.Info("HUP received, reread scheduled", nil)
		s.reloadConfig()
	}
}

func (s *Server) drainFallback() {
	if s.fallback == nil {
		return
	}
	for {
		select {
		case ev := <-s.fallback:
			s.control(ev)
		default:
			return
		}
	}
}

func (s *Server) reloadConfig() {
	if s.reloadFn == nil {
		return
	}
	newCfg, err := s.reloadFn()
	if err != nil {
		s.log.Error("config reread failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.cfg.Replace(newCfg)
	s.closeSockets(newCfg, false)
	s.setupSockets(newCfg)
	s.headerTimeout = int64(newCfg.HeaderTimeout)
}

// acceptClient waits for readiness, accepts at most one connection,
// applies admission control and returns an initialized client, or nil.
func (s *Server) acceptClient() *client.Client {
	res, err := sock.Wait(s.serversock, s.sigfd)
	if err != nil {
		s.log.Error("listener poll failed", map[string]interface{}{"error": err.Error()})
		time.Sleep(500 * time.Millisecond)
		return nil
	}
	if res.Signal {
		s.control(sock.ReadSignal(s.sigfd))
	}
	for _, fd := range res.Failed {
		s.log.Warn("had to close a listening socket", nil)
		s.dropListener(fd)
		if fd == res.Ready {
			res.Ready = sock.ErrSock
		}
	}
	if res.Ready == sock.ErrSock {
		return nil
	}

	fd, addr, err := sock.Accept(res.Ready)
	if err != nil {
		if sock.Recoverable(err) {
			return nil
		}
		s.log.Warn("accept failed", map[string]interface{}{"error": err.Error()})
		time.Sleep(500 * time.Millisecond)
		return nil
	}

	now := time.Now().Unix()
	if !s.filters.AcceptIP(addr, now) {
		s.metrics.RecordRefused()
		sock.Close(fd)
		return nil
	}
	if sock.SetCork(fd, true) != nil {
		if err := sock.SetNoDelay(fd); err != nil {
			s.log.Warn("failed to set tcp options on client connection, dropping", nil)
			sock.Close(fd)
			return nil
		}
	}

	c := &client.Client{Worker: s.workers}
	if err := connection.Init(&c.Connection, fd, addr); err != nil {
		sock.Close(fd)
		return nil
	}
	c.SharedData = refbuf.NewRequest(refbuf.DefaultSize)

	s.registry.Register(c)
	for i, sfd := range s.serversock {
		if sfd != res.Ready {
			continue
		}
		sc := s.serverConn[i]
		sc.Retain()
		c.ServerConn = sc
		if sc.TLS && s.tlsCtx != nil {
			if err := c.Connection.UseTLS(s.tlsCtx); err != nil {
				s.log.Warn("TLS wrap failed", map[string]interface{}{"error": err.Error()})
				c.Destroy(s.registry)
				return nil
			}
		}
		if sc.ShoutcastCompat {
			c.State = client.StateShoutcastIntro
		} else {
			c.State = client.StateRequestRead
		}
		break
	}
	c.SetFlag(client.FlagActive)
	return c
}
