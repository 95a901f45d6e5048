// Package admin is the default admin collaborator: it answers requests
// under the admin prefix with JSON and drives runtime ban management.
package admin

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/filter"
	"streamgate/internal/logging"
	"streamgate/internal/metrics"
)

// writeTimeout bounds the synchronous response flush; admin responses
// are small, so a stuck peer is dropped rather than waited on.
const writeTimeout = 5 * time.Second

// Config wires the admin handler.
type Config struct {
	Store    *config.Store
	Metrics  *metrics.Metrics
	Filters  *filter.Store
	Registry *client.Registry
	Logger   *logging.Logger
}

// Handler implements the admin terminal collaborator.
type Handler struct {
	cfg      *config.Store
	metrics  *metrics.Metrics
	filters  *filter.Store
	registry *client.Registry
	log      *logging.Logger
}

// New creates an admin handler.
func New(cfg Config) *Handler {
	return &Handler{
		cfg:      cfg.Store,
		metrics:  cfg.Metrics,
		filters:  cfg.Filters,
		registry: cfg.Registry,
		log:      cfg.Logger,
	}
}

// HandleRequest owns the client from here: it authenticates, routes,
// writes the response and destroys the client.
func (h *Handler) HandleRequest(c *client.Client, uri string) {
	defer h.finish(c)

	if !h.authorized(c) {
		c.Send401()
		return
	}

	switch uri {
	case "/admin/stats", "/admin.cgi":
		h.handleStats(c)
	case "/admin/ban":
		h.handleBan(c)
	case "/admin/unban":
		h.handleUnban(c)
	default:
		c.SendResponse(404,
			"HTTP/1.0 404 Not Found\r\nContent-Type: text/plain\r\n\r\nunknown admin function\r\n")
	}
}

func (h *Handler) authorized(c *client.Client) bool {
	cfg := h.cfg.Get()
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return false
	}
	header := c.Parser.Header("authorization")
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
	return string(decoded[:sep]) == cfg.AdminUser && string(decoded[sep+1:]) == cfg.AdminPassword
}

func (h *Handler) handleStats(c *client.Client) {
	h.metrics.SetBannedIPs(h.filters.BannedCount())
	body := h.metrics.SnapshotJSON()
	c.SendResponse(200, fmt.Sprintf(
		"HTTP/1.0 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body))
}

func (h *Handler) handleBan(c *client.Client) {
	ip := c.Parser.QueryParam("ip")
	if ip == "" {
		c.Send400("missing ip parameter")
		return
	}
	duration := 0
	if d := c.Parser.QueryParam("duration"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			c.Send400("invalid duration")
			return
		}
		duration = n
	}
	h.filters.AddBannedIP(ip, duration)
	c.SendResponse(200, "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\nbanned\r\n")
}

func (h *Handler) handleUnban(c *client.Client) {
	ip := c.Parser.QueryParam("ip")
	if ip == "" {
		c.Send400("missing ip parameter")
		return
	}
	h.filters.ReleaseBannedIP(ip)
	c.SendResponse(200, "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\nunbanned\r\n")
}

// finish flushes whatever response was queued and tears the client
// down; admin clients never keep-alive.
func (h *Handler) finish(c *client.Client) {
	deadline := time.Now().Add(writeTimeout)
	for time.Now().Before(deadline) {
		done, err := c.WriteBuffer()
		if err != nil || done {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	c.Destroy(h.registry)
}
