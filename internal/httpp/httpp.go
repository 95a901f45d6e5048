// Package httpp parses the HTTP-like request block used by listeners and
// sources. It accepts HTTP and ICE request lines and ICY-style header
// fields, and exposes headers, query parameters and the request type.
package httpp

import (
	"fmt"
	"net/url"
	"strings"
)

// ReqType classifies the request method.
type ReqType int

const (
	ReqNone ReqType = iota
	ReqGet
	ReqHead
	ReqSource
	ReqPut
	ReqPost
	ReqStats
	ReqOptions
	ReqUnknown
)

var methodTypes = map[string]ReqType{
	"GET":     ReqGet,
	"HEAD":    ReqHead,
	"SOURCE":  ReqSource,
	"PUT":     ReqPut,
	"POST":    ReqPost,
	"STATS":   ReqStats,
	"OPTIONS": ReqOptions,
}

// Parser holds one parsed request.
type Parser struct {
	ReqType  ReqType
	Method   string
	Protocol string
	Version  string
	URI      string

	headers map[string]string
	query   url.Values
}

// Parse parses a request block. The block may use CRLF or bare LF line
// endings.
func Parse(data []byte) (*Parser, error) {
	text := strings.ReplaceAll(string(data), "\r", "")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("httpp: empty request")
	}

	p := &Parser{
		headers: make(map[string]string),
		query:   url.Values{},
	}
	if err := p.parseRequestLine(lines[0]); err != nil {
		return nil, err
	}
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if prev, ok := p.headers[name]; ok {
			p.headers[name] = prev + "," + value
			continue
		}
		p.headers[name] = value
	}
	return p, nil
}

func (p *Parser) parseRequestLine(line string) error {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return fmt.Errorf("httpp: malformed request line %.40q", line)
	}
	p.Method = strings.ToUpper(parts[0])
	if t, ok := methodTypes[p.Method]; ok {
		p.ReqType = t
	} else {
		p.ReqType = ReqUnknown
	}

	uri := parts[1]
	if qi := strings.IndexByte(uri, '?'); qi >= 0 {
		q, err := url.ParseQuery(uri[qi+1:])
		if err == nil {
			p.query = q
		}
		uri = uri[:qi]
	}
	p.URI = uri

	proto := parts[2]
	if si := strings.IndexByte(proto, '/'); si >= 0 {
		p.Protocol = strings.ToUpper(proto[:si])
		p.Version = proto[si+1:]
	} else {
		p.Protocol = strings.ToUpper(proto)
	}
	return nil
}

// Header returns a header value by case-insensitive name, or "".
func (p *Parser) Header(name string) string {
	return p.headers[strings.ToLower(name)]
}

// QueryParam returns a query parameter value, or "".
func (p *Parser) QueryParam(name string) string {
	return p.query.Get(name)
}

// NormalizeURI decodes percent escapes and rejects traversal attempts.
func NormalizeURI(uri string) (string, error) {
	if uri == "" || uri[0] != '/' {
		return "", fmt.Errorf("httpp: URI must start with /")
	}
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		return "", fmt.Errorf("httpp: bad URI escape: %w", err)
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return "", fmt.Errorf("httpp: URI traversal rejected")
		}
	}
	return decoded, nil
}
