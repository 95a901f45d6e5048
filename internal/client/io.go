package client

import (
	"fmt"

	"streamgate/internal/connection"
	"streamgate/internal/refbuf"
)

// ReadBytes reads into buf, returning connection.ErrTryAgain when no
// data is available yet.
func (c *Client) ReadBytes(buf []byte) (int, error) {
	return c.Connection.Read(buf)
}

// WriteBuffer pushes the active Refbuf from Pos toward completion. It
// returns true once the whole buffer is on the wire.
func (c *Client) WriteBuffer() (bool, error) {
	r := c.Refbuf
	if r == nil || c.Pos >= r.Len {
		return true, nil
	}
	n, err := c.Connection.Send(r.Bytes()[c.Pos:])
	if err != nil {
		if err == connection.ErrTryAgain {
			return false, nil
		}
		return false, err
	}
	c.Pos += n
	return c.Pos >= r.Len, nil
}

// SendResponse queues a canned response and moves the client to the
// response-flush state. Any pending buffers are replaced.
func (c *Client) SendResponse(code int, response string) {
	if c.SharedData != nil {
		refbuf.Release(c.SharedData)
		c.SharedData = nil
	}
	if c.Refbuf != nil {
		refbuf.Release(c.Refbuf)
	}
	r := refbuf.NewRequest(len(response))
	r.Len = copy(r.Data, response)
	c.Refbuf = r
	c.Pos = 0
	c.Respcode = code
	c.State = StateSendResponse
}

// Send400 refuses a malformed request.
func (c *Client) Send400(message string) {
	c.SendResponse(400, fmt.Sprintf(
		"HTTP/1.0 400 Bad Request\r\nContent-Type: text/plain\r\n\r\n%s\r\n", message))
}

// Send401 refuses missing or bad credentials. The body stays empty.
func (c *Client) Send401() {
	c.SendResponse(401,
		"HTTP/1.0 401 Authentication Required\r\n"+
			"WWW-Authenticate: Basic realm=\"streamgate\"\r\n"+
			"Content-Length: 0\r\n\r\n")
}

// Send403 refuses an admitted but unserviceable request.
func (c *Client) Send403(message string) {
	c.SendResponse(403, fmt.Sprintf(
		"HTTP/1.0 403 Forbidden\r\nContent-Type: text/plain\r\n\r\n%s\r\n", message))
}

// Send501 answers an unhandled request method.
func (c *Client) Send501() {
	c.SendResponse(501,
		"HTTP/1.0 501 Not Implemented\r\nContent-Type: text/plain\r\n\r\nNot Implemented\r\n")
}

// SendOptions answers an OPTIONS probe.
func (c *Client) SendOptions() {
	c.SendResponse(200,
		"HTTP/1.1 200 OK\r\nAllow: GET, SOURCE, PUT, HEAD, OPTIONS, STATS\r\n"+
			"Content-Length: 0\r\n\r\n")
}
