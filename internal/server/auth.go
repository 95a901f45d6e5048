package server

import (
	"encoding/base64"
	"strings"

	"streamgate/internal/httpp"
)

// checkPassHTTP verifies HTTP Basic credentials from the Authorization
// header against the expected user and password.
func checkPassHTTP(p *httpp.Parser, user, pass string) bool {
	header := p.Header("authorization")
	if header == "" {
		return false
	}
	if !strings.HasPrefix(header, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len("Basic "):])
	if err != nil {
		return false
	}
	sep := strings.IndexByte(string(decoded), ':')
	if sep < 0 {
		return false
	}
	return string(decoded[:sep]) == user && string(decoded[sep+1:]) == pass
}

// checkPassICY verifies the icy-password field sent by legacy clients.
func checkPassICY(p *httpp.Parser, pass string) bool {
	password := p.Header("icy-password")
	if password == "" {
		return false
	}
	return password == pass
}

// checkPassIce verifies the deprecated ice-password header.
func checkPassIce(p *httpp.Parser, pass string) bool {
	return p.Header("ice-password") == pass
}

// checkAdminPass verifies the admin credentials, selecting the ICY
// scheme when the request used the ICY protocol.
func (s *Server) checkAdminPass(p *httpp.Parser) bool {
	cfg := s.cfg.Get()
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return false
	}
	if p.Protocol == "ICY" {
		return checkPassICY(p, cfg.AdminPassword)
	}
	return checkPassHTTP(p, cfg.AdminUser, cfg.AdminPassword)
}

// checkRelayPass verifies the relay credentials used by slave stats
// feeds.
func (s *Server) checkRelayPass(p *httpp.Parser) bool {
	cfg := s.cfg.Get()
	if cfg.RelayUser == "" || cfg.RelayPassword == "" {
		return false
	}
	return checkPassHTTP(p, cfg.RelayUser, cfg.RelayPassword)
}

// CheckSourcePass verifies source credentials: ICY clients present only
// a password, everything else uses Basic auth with an optional fallback
// to the deprecated ice-password header when enabled.
func (s *Server) CheckSourcePass(p *httpp.Parser, user string) bool {
	cfg := s.cfg.Get()
	pass := cfg.SourcePassword
	if pass == "" {
		s.log.Warn("no source password set, rejecting source", nil)
		return false
	}
	if p.Protocol == "ICY" {
		return checkPassICY(p, pass)
	}
	if checkPassHTTP(p, user, pass) {
		return true
	}
	if cfg.IceLogin && checkPassIce(p, pass) {
		s.log.Warn("source is using deprecated ice-password login", nil)
		return true
	}
	return false
}
