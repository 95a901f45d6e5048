package server

import (
	"bytes"
	"strings"

	"streamgate/internal/client"
	"streamgate/internal/connection"
	"streamgate/internal/httpp"
	"streamgate/internal/refbuf"
)

// StepResult tells the worker what to do after a client step.
type StepResult int

const (
	// StepAgain reschedules the client at its ScheduleMS.
	StepAgain StepResult = iota
	// StepHandoff means a terminal collaborator owns the client now.
	StepHandoff
	// StepFatal means the worker must destroy the client.
	StepFatal
)

// policyPrefix is the Flash policy probe; it short-circuits request
// parsing entirely.
var policyPrefix = []byte("<policy-file-request/>")

const policyMount = "/flashpolicy"

// Process runs one cooperative step for the client. A single client is
// never entered re-entrantly; the owning worker serializes calls.
func (s *Server) Process(c *client.Client) StepResult {
	switch c.State {
	case client.StateRequestRead:
		return s.stepRequestRead(c)
	case client.StateShoutcastIntro:
		return s.stepShoutcastIntro(c)
	case client.StateGetHandler:
		return s.handleGet(c)
	case client.StateSourceSetup:
		return s.stepSourceSetup(c)
	case client.StateSourceHandler:
		return s.handleSource(c)
	case client.StateStatsHandler:
		return s.handleStats(c)
	case client.StateSendResponse:
		return s.stepSendResponse(c)
	}
	return StepFatal
}

// findTerminator locates the end of a header block, tolerating the three
// terminator variants in priority order. It returns the offset just past
// the terminator, or -1.
func findTerminator(data []byte) int {
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	if i := bytes.Index(data, []byte("\r\r\n\r\r\n")); i >= 0 {
		return i + 6
	}
	return -1
}

// readBackoff scales the retry delay with time spent in this state:
// half the elapsed time, capped at 200ms, plus a fixed 6ms.
func readBackoff(c *client.Client) {
	diff := (c.Worker.TimeMS() - c.Counter) / 2
	if diff > 200 {
		diff = 200
	}
	c.ScheduleMS = c.Worker.TimeMS() + 6 + diff
}

func (s *Server) stepRequestRead(c *client.Client) StepResult {
	if !s.running.Load() {
		return s.dropRequest(c)
	}
	refb := c.SharedData
	if refb == nil {
		refb = refbuf.NewRequest(refbuf.DefaultSize)
		c.SharedData = refb
	}
	remaining := len(refb.Data) - 1 - refb.Len
	if remaining <= 0 || c.Connection.DisconTime <= c.Worker.CurrentTime() {
		return s.dropRequest(c)
	}

	n, err := c.ReadBytes(refb.Data[refb.Len : refb.Len+remaining])
	switch {
	case err == nil:
		refb.Len += n
	case err == connection.ErrTryAgain && !c.Connection.Error:
		if refb.Len == 0 {
			readBackoff(c)
			return StepAgain
		}
		// buffered bytes may already hold a complete request; the
		// shoutcast translation seeds the buffer this way
	default:
		return s.dropRequest(c)
	}

	if bytes.HasPrefix(refb.Bytes(), policyPrefix) {
		c.Respcode = 200
		refbuf.Release(refb)
		c.SharedData = nil
		if s.handlers.FileServer == nil {
			return StepFatal
		}
		s.handlers.FileServer.ServeFile(c, policyMount)
		return StepHandoff
	}

	end := findTerminator(refb.Bytes())
	if end < 0 {
		c.ScheduleMS = c.Worker.TimeMS() + 100
		return StepAgain
	}
	return s.requestParsed(c, end)
}

func (s *Server) dropRequest(c *client.Client) StepResult {
	if c.SharedData != nil {
		refbuf.Release(c.SharedData)
		c.SharedData = nil
	}
	return StepFatal
}

// requestParsed moves a complete header block through the parser and
// classifies the request.
func (s *Server) requestParsed(c *client.Client, end int) StepResult {
	refb := c.SharedData
	c.Refbuf = refb
	c.SharedData = nil
	c.Connection.DisconTime = 0

	parser, err := httpp.Parse(refb.Bytes()[:end])
	if err != nil {
		s.log.Warn("invalid request", map[string]interface{}{
			"ip": c.Connection.IP, "error": err.Error(),
		})
		c.Send400("invalid request")
		return s.stepSendResponse(c)
	}
	c.Parser = parser

	if s.filters.AgentFilterActive() {
		agent := parser.Header("user-agent")
		if agent != "" && s.filters.DropAgent(agent, c.Worker.CurrentTime()) {
			s.log.Info("dropping client, useragent denied", map[string]interface{}{
				"ip": c.Connection.IP, "agent": agent,
			})
			return StepFatal
		}
	}

	if parser.Protocol != "ICE" && parser.Protocol != "HTTP" {
		s.log.Error("bad protocol detected", map[string]interface{}{
			"ip": c.Connection.IP, "protocol": parser.Protocol,
		})
		return StepFatal
	}
	if parser.Version == "1.1" {
		c.SetFlag(client.FlagKeepalive) // default for 1.1
	}
	if conn := parser.Header("connection"); conn != "" {
		if strings.EqualFold(conn, "keep-alive") {
			c.SetFlag(client.FlagKeepalive)
		} else {
			c.ClearFlag(client.FlagKeepalive)
		}
	}

	if s.handlers.Auth != nil {
		s.handlers.Auth.PreCheck(c)
	}

	c.Counter = 0
	switch parser.ReqType {
	case httpp.ReqHead, httpp.ReqGet:
		c.State = client.StateGetHandler
		return s.handleGet(c)
	case httpp.ReqSource, httpp.ReqPut:
		c.Pos = end
		return s.setupSource(c)
	case httpp.ReqStats:
		c.State = client.StateStatsHandler
		return s.handleStats(c)
	case httpp.ReqOptions:
		c.SendOptions()
		return s.stepSendResponse(c)
	default:
		s.log.Warn("unhandled request type", map[string]interface{}{"ip": c.Connection.IP})
		c.Send501()
		return s.stepSendResponse(c)
	}
}

// setupSource prepares a SOURCE/PUT client for the source handler.
// Stream bytes that arrived after the header terminator move into a
// follow-on buffer so the handler sees them before any socket read. An
// Expect: 100-continue request gets its interim response first.
func (s *Server) setupSource(c *client.Client) StepResult {
	buf := c.Refbuf
	if n := buf.Len - c.Pos; n > 0 {
		stream := refbuf.New(n)
		copy(stream.Data, buf.Data[c.Pos:buf.Len])
		buf.Associated = stream
		buf.Len -= n
		s.log.Debug("found stream data after headers", map[string]interface{}{"bytes": n})
	}
	if expect := c.Parser.Header("expect"); expect != "" {
		if strings.EqualFold(expect, "100-continue") {
			s.log.Debug("client expects 100 continue", nil)
			const cont = "HTTP/1.1 100 Continue\r\n\r\n"
			buf.Len = copy(buf.Data, cont)
			c.Pos = 0
			c.Continue100 = true
			c.State = client.StateSourceSetup
			return s.stepSourceSetup(c)
		}
		s.log.Info("received Expect header", map[string]interface{}{"expect": expect})
	}
	return s.promoteSourceBuffer(c)
}

// stepSourceSetup flushes the interim 100 Continue response, then lets
// the source handler take over.
func (s *Server) stepSourceSetup(c *client.Client) StepResult {
	done, err := c.WriteBuffer()
	if err != nil {
		return StepFatal
	}
	if !done {
		c.ScheduleMS = c.Worker.TimeMS() + 20
		return StepAgain
	}
	c.Continue100 = false
	return s.promoteSourceBuffer(c)
}

// promoteSourceBuffer makes any saved stream bytes the client's current
// buffer, releases the request block and hands over to the source
// handler.
func (s *Server) promoteSourceBuffer(c *client.Client) StepResult {
	buf := c.Refbuf
	stream := buf.Associated
	buf.Associated = nil
	refbuf.Release(buf)
	c.Refbuf = stream
	c.Pos = 0
	c.State = client.StateSourceHandler
	return s.handleSource(c)
}

// stepSendResponse flushes a canned response, then either recycles a
// keep-alive client into request assembly or closes it down.
func (s *Server) stepSendResponse(c *client.Client) StepResult {
	if c.Connection.Error {
		return StepFatal
	}
	done, err := c.WriteBuffer()
	if err != nil {
		return StepFatal
	}
	if !done {
		c.ScheduleMS = c.Worker.TimeMS() + 20
		return StepAgain
	}
	if !c.HasFlag(client.FlagKeepalive) {
		return StepFatal
	}
	refbuf.Release(c.Refbuf)
	c.Refbuf = nil
	c.Parser = nil
	c.Pos = 0
	c.Respcode = 0
	c.State = client.StateRequestRead
	c.Counter = c.Worker.TimeMS()
	c.Connection.DisconTime = c.Worker.CurrentTime() + s.headerTimeout
	c.ScheduleMS = c.Worker.TimeMS() + 6
	return StepAgain
}
