// Package fserve is the file-serve collaborator for canned mounts,
// primarily the Flash policy document requested by the in-band probe.
package fserve

import (
	"fmt"
	"os"
	"sync"
	"time"

	"streamgate/internal/client"
	"streamgate/internal/logging"
)

// defaultPolicy is served when no policy file is configured.
const defaultPolicy = `<?xml version="1.0"?>` + "\n" +
	`<cross-domain-policy><allow-access-from domain="*" to-ports="*" />` +
	`</cross-domain-policy>` + "\x00"

const writeTimeout = 5 * time.Second

// Config wires the file server.
type Config struct {
	// Mounts maps a mount name to a file path.
	Mounts   map[string]string
	Registry *client.Registry
	Logger   *logging.Logger
}

// Handler serves canned file mounts to raw clients.
type Handler struct {
	mounts   map[string]string
	registry *client.Registry
	log      *logging.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

// New creates a file-serve handler.
func New(cfg Config) *Handler {
	return &Handler{
		mounts:   cfg.Mounts,
		registry: cfg.Registry,
		log:      cfg.Logger,
		cache:    make(map[string][]byte),
	}
}

// ServeFile owns the client from here: it writes the mount contents and
// tears the client down.
func (h *Handler) ServeFile(c *client.Client, mount string) {
	body := h.contents(mount)
	if body == nil {
		c.SendResponse(404,
			"HTTP/1.0 404 Not Found\r\nContent-Type: text/plain\r\n\r\nnot found\r\n")
	} else if mount == "/flashpolicy" {
		// the policy probe is not HTTP; the document goes out raw
		c.SendResponse(200, string(body))
	} else {
		c.SendResponse(200, fmt.Sprintf(
			"HTTP/1.0 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
	}

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

func (h *Handler) contents(mount string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if body, ok := h.cache[mount]; ok {
		return body
	}
	path, ok := h.mounts[mount]
	if !ok {
		if mount == "/flashpolicy" {
			return []byte(defaultPolicy)
		}
		return nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		h.log.Warn("file mount unreadable", map[string]interface{}{
			"mount": mount, "error": err.Error(),
		})
		return nil
	}
	h.cache[mount] = body
	return body
}
