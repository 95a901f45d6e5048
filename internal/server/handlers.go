package server

import (
	"path"
	"strings"

	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/httpp"
)

// applyXForward substitutes the peer address with the first entry of the
// X-Forwarded-For header, but only when the immediate peer is a
// configured trusted forwarder.
func applyXForward(cfg *config.Config, c *client.Client) {
	hdr := c.Parser.Header("x-forwarded-for")
	if hdr == "" {
		return
	}
	for _, trusted := range cfg.XForward {
		if trusted == c.Connection.IP {
			forwarded := hdr
			if i := strings.IndexByte(forwarded, ','); i >= 0 {
				forwarded = forwarded[:i]
			}
			c.Connection.IP = strings.TrimSpace(forwarded)
			return
		}
	}
}

// checkForFiltering applies the FLV hint and the access-log exclusion
// list to a normalized listener URI.
func checkForFiltering(cfg *config.Config, c *client.Client, uri string) {
	ext := strings.TrimPrefix(path.Ext(uri), ".")
	qtype := c.Parser.QueryParam("type")

	if ext == "flv" || qtype == ".flv" || qtype == ".fla" {
		c.SetFlag(client.FlagWantsFLV)
	}
	if ext == "" || cfg.AccessLog.ExcludeExt == "" {
		return
	}
	for _, pattern := range strings.Fields(cfg.AccessLog.ExcludeExt) {
		if pattern == ext {
			c.SetFlag(client.FlagSkipAccessLog)
			return
		}
	}
}

// applyAliases rewrites the URI through the first matching alias,
// honouring optional port and bind-address restrictions.
func applyAliases(cfg *config.Config, c *client.Client, uri string) string {
	serverPort := 0
	serverHost := ""
	if c.ServerConn != nil {
		serverPort = c.ServerConn.Port
		serverHost = c.ServerConn.BindAddress
	}
	for _, alias := range cfg.Aliases {
		if alias.Source != uri {
			continue
		}
		if alias.Port != 0 && alias.Port != serverPort {
			continue
		}
		if alias.BindAddress != "" && alias.BindAddress != serverHost {
			continue
		}
		return alias.Destination
	}
	return uri
}

func isAdminURI(uri string) bool {
	return uri == "/admin.cgi" || strings.HasPrefix(uri, "/admin/")
}

// handleGet routes HEAD and GET requests: admin URIs to the admin
// collaborator, everything else to listener attach, with the global
// client limit applied only outside the admin prefix.
func (s *Server) handleGet(c *client.Client) StepResult {
	uri, err := httpp.NormalizeURI(c.Parser.URI)
	if err != nil {
		c.Send400("invalid request URI")
		return s.stepSendResponse(c)
	}

	cfg := s.cfg.Get()
	checkForFiltering(cfg, c, uri)
	applyXForward(cfg, c)
	uri = applyAliases(cfg, c, uri)

	limitReached := s.registry.Count() > cfg.ClientLimit
	if limitReached {
		s.log.Warn("server client limit reached", map[string]interface{}{
			"limit": cfg.ClientLimit, "clients": s.registry.Count(), "ip": c.Connection.IP,
		})
	}
	s.metrics.RecordClientConnection()

	if isAdminURI(uri) {
		if s.handlers.Admin == nil {
			c.Send401()
			return s.stepSendResponse(c)
		}
		s.handlers.Admin.HandleRequest(c, uri)
		return StepHandoff
	}
	// non-admin requests bounce here when the client limit is reached
	if limitReached {
		c.Send403("Too many clients connected")
		return s.stepSendResponse(c)
	}
	if s.handlers.Auth == nil {
		c.Send401()
		return s.stepSendResponse(c)
	}
	s.handlers.Auth.AddListener(uri, c)
	return StepHandoff
}

// handleSource routes SOURCE and PUT requests through source
// authentication to the source collaborator.
func (s *Server) handleSource(c *client.Client) StepResult {
	uri := c.Parser.URI
	s.log.Info("source logging in", map[string]interface{}{
		"mount": uri, "ip": c.Connection.IP,
	})

	cfg := s.cfg.Get()
	applyXForward(cfg, c)

	if !strings.HasPrefix(uri, "/") {
		s.log.Warn("source mountpoint not starting with /", nil)
		c.Send401()
		return s.stepSendResponse(c)
	}
	if s.handlers.Auth == nil || s.handlers.Source == nil {
		c.Send401()
		return s.stepSendResponse(c)
	}
	switch s.handlers.Auth.CheckSource(c, uri) {
	case 0: // authenticated from configuration
		s.metrics.RecordSourceConnection()
		s.handlers.Source.Startup(c, uri)
		return StepHandoff
	case 1: // auth pending, handler owns the client
		return StepHandoff
	default:
		s.log.Info("source login failed", map[string]interface{}{
			"mount": uri, "ip": c.Connection.IP,
		})
		c.Send401()
		return s.stepSendResponse(c)
	}
}

// handleStats attaches a stats feed: the admin password grants the full
// feed, the relay password on /admin/streams grants the slave feed, and
// anything else is treated as a listener attach.
func (s *Server) handleStats(c *client.Client) StepResult {
	if s.handlers.Stats != nil && s.checkAdminPass(c.Parser) {
		s.handlers.Stats.AddListener(c, StatsAll)
		return StepHandoff
	}
	uri := c.Parser.URI
	if s.handlers.Stats != nil && uri == "/admin/streams" && s.checkRelayPass(c.Parser) {
		s.handlers.Stats.AddListener(c, StatsSlave|StatsGeneral)
		return StepHandoff
	}
	if s.handlers.Auth == nil {
		c.Send401()
		return s.stepSendResponse(c)
	}
	s.handlers.Auth.AddListener(uri, c)
	return StepHandoff
}
