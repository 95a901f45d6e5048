package server

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"streamgate/internal/client"
	"streamgate/internal/connection"
	"streamgate/internal/refbuf"
)

// shoutcastResponse is the capability line a legacy source expects
// before it will send its headers.
const shoutcastResponse = "OK2\r\nicy-caps:11\r\n\r\n"

// stepShoutcastIntro handles the legacy source handshake: a plaintext
// password line arrives first; once verified against nothing here (auth
// happens downstream), the input is rewritten into a synthetic SOURCE
// request with Basic credentials and the client re-enters the normal
// request state machine.
func (s *Server) stepShoutcastIntro(c *client.Client) StepResult {
	con := &c.Connection
	if con.Error || con.DisconTime <= c.Worker.CurrentTime() || !s.running.Load() {
		return s.dropRequest(c)
	}

	if c.SharedData != nil { // need the password line first
		refb := c.SharedData
		remaining := len(refb.Data) - 2 - refb.Len
		if remaining <= 0 {
			return s.dropRequest(c)
		}

		n, err := c.ReadBytes(refb.Data[refb.Len : refb.Len+remaining])
		if err != nil {
			if err == connection.ErrTryAgain && !con.Error {
				c.ScheduleMS = c.Worker.TimeMS() + 100
				return StepAgain
			}
			return s.dropRequest(c)
		}
		refb.Len += n

		eol := bytes.IndexAny(refb.Bytes(), "\r\n")
		if eol < 0 { // no EOL yet
			c.ScheduleMS = c.Worker.TimeMS() + 100
			return StepAgain
		}

		password := string(refb.Data[:eol])
		creds := base64.StdEncoding.EncodeToString([]byte("source:" + password))

		// skip the EOL character plus any run of CR/LF behind it; the
		// rest is already-received header input
		rest := eol + 1
		for rest < refb.Len && (refb.Data[rest] == '\r' || refb.Data[rest] == '\n') {
			rest++
		}

		synth := refbuf.NewRequest(refbuf.DefaultSize)
		synth.Len = copy(synth.Data, fmt.Sprintf("SOURCE %s HTTP/1.0\r\nAuthorization: Basic %s\r\n%s",
			c.ServerConn.ShoutcastMount, creds, refb.Data[rest:refb.Len]))

		resp := refbuf.NewRequest(len(shoutcastResponse))
		resp.Len = copy(resp.Data, shoutcastResponse)
		resp.Associated = synth

		c.Respcode = 200
		c.Refbuf = resp
		c.Pos = 0
		refbuf.Release(refb)
		c.SharedData = nil
		s.log.Info("shoutcast emulation started", map[string]interface{}{
			"mount": c.ServerConn.ShoutcastMount, "ip": con.IP,
		})
	}

	done, err := c.WriteBuffer()
	if err != nil {
		return StepFatal
	}
	if done {
		r := c.Refbuf
		c.SharedData = r.Associated
		r.Associated = nil
		c.Refbuf = nil
		refbuf.Release(r)
		c.State = client.StateRequestRead
		c.Pos = 0
	}
	c.ScheduleMS = c.Worker.TimeMS() + 100
	return StepAgain
}
