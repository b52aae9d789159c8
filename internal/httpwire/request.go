package httpwire

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// ErrMalformedRequest is returned when the request line cannot be split into
// method, path and protocol, or when no upstream host can be determined.
var ErrMalformedRequest = errors.New("malformed request")

var (
	crlf     = []byte("\r\n")
	headTerm = []byte("\r\n\r\n")
)

// Method is an HTTP request method the proxy accepts.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPut     Method = "PUT"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
)

func parseMethod(s string) (Method, bool) {
	switch m := Method(s); m {
	case MethodGet, MethodPut, MethodHead, MethodPost, MethodPatch, MethodDelete, MethodOptions, MethodConnect:
		return m, true
	default:
		return "", false
	}
}

// Protocol is the HTTP version token from the request line.
type Protocol string

const (
	HTTP10 Protocol = "HTTP/1.0"
	HTTP11 Protocol = "HTTP/1.1"
	HTTP20 Protocol = "HTTP/2.0"
)

func parseProtocol(s string) (Protocol, bool) {
	switch s {
	case string(HTTP10), string(HTTP11), string(HTTP20):
		return Protocol(s), true
	case "HTTP/2":
		return HTTP20, true
	default:
		return "", false
	}
}

// Request is an immutable view over the first chunk read from a client.
//
// Host and Port hold the resolved upstream target. Path is rewritten to
// origin-form when the client sent an absolute URI.
type Request struct {
	Method   Method
	Path     string
	Protocol Protocol
	Host     string
	Port     int

	raw     []byte
	headEnd int

	headersOnce sync.Once
	headers     map[string]string
}

// ParseRequest parses raw, which is copied, into a Request.
//
// The upstream target is taken from the request-target when it carries an
// authority (absolute URI or CONNECT host:port), and from the Host header
// otherwise. Any failure wraps ErrMalformedRequest.
func ParseRequest(raw []byte) (*Request, error) {
	raw = bytes.Clone(raw)

	line, _, _ := bytes.Cut(raw, crlf)
	fields := strings.Split(string(line), " ")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: request line has %d fields", ErrMalformedRequest, len(fields))
	}

	method, ok := parseMethod(fields[0])
	if !ok {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrMalformedRequest, fields[0])
	}
	proto, ok := parseProtocol(fields[2])
	if !ok {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrMalformedRequest, fields[2])
	}

	r := &Request{
		Method:   method,
		Path:     fields[1],
		Protocol: proto,
		raw:      raw,
		headEnd:  len(raw),
	}
	if i := bytes.Index(raw, headTerm); i >= 0 {
		r.headEnd = i + len(headTerm)
	}

	if err := r.resolveTarget(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return r, nil
}

func (r *Request) resolveTarget() error {
	var err error
	originForm := strings.HasPrefix(r.Path, "/")
	switch {
	case !originForm && strings.Contains(r.Path, "://"):
		r.Host, r.Port, r.Path, err = splitAbsoluteURI(r.Path)
	case !originForm && strings.Contains(r.Path, ":"):
		r.Host, r.Port, err = splitHostPort(r.Path, 0)
	default:
		host := r.Header("host")
		if host == "" {
			return errors.New("no target host")
		}
		r.Host, r.Port, err = splitHostPort(host, r.defaultPort())
	}
	if err != nil {
		return err
	}
	if r.Host == "" {
		return errors.New("empty target host")
	}
	return nil
}

func (r *Request) defaultPort() int {
	if r.Method == MethodConnect {
		return 443
	}
	return 80
}

// splitAbsoluteURI returns the host, port and origin-form path of an
// absolute-URI request-target such as http://example.com:8080/foo?q=1.
func splitAbsoluteURI(uri string) (host string, port int, path string, err error) {
	scheme, rest, _ := strings.Cut(uri, "://")

	defPort := 80
	if strings.EqualFold(scheme, "https") {
		defPort = 443
	}

	authority := rest
	path = "/"
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority = rest[:i]
		path = rest[i:]
		if path[0] != '/' {
			path = "/" + path
		}
	}
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		authority = authority[i+1:]
	}

	host, port, err = splitHostPort(authority, defPort)
	return host, port, path, err
}

// splitHostPort splits host[:port]. When no port is present defPort is used;
// a defPort of zero makes the port mandatory.
func splitHostPort(hostport string, defPort int) (string, int, error) {
	hostport = strings.TrimSpace(hostport)
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 && i > strings.LastIndexByte(hostport, ']') {
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return "", 0, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("invalid port %q", portStr)
		}
		return strings.ToLower(host), port, nil
	}
	if defPort == 0 {
		return "", 0, fmt.Errorf("missing port in %q", hostport)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
	return strings.ToLower(host), defPort, nil
}

// Headers returns the request headers keyed by lower-cased name. Values are
// trimmed of surrounding whitespace; the last occurrence of a name wins.
// Lines without a colon are skipped. The map is parsed on first use and must
// not be modified.
func (r *Request) Headers() map[string]string {
	r.headersOnce.Do(func() {
		h := make(map[string]string)
		lines := bytes.Split(r.raw[:r.headEnd], crlf)
		for _, line := range lines[1:] {
			name, value, ok := bytes.Cut(line, []byte(":"))
			if !ok {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(string(name)))
			if key == "" {
				continue
			}
			h[key] = strings.TrimSpace(string(value))
		}
		r.headers = h
	})
	return r.headers
}

// Header returns the value of the named header, or "" if it is absent.
func (r *Request) Header(name string) string {
	return r.Headers()[strings.ToLower(name)]
}

// Raw returns the bytes the request was parsed from.
func (r *Request) Raw() []byte {
	return r.raw
}

// Payload returns the bytes that followed the header block in the first
// chunk. For CONNECT these are the first tunnel bytes.
func (r *Request) Payload() []byte {
	return r.raw[r.headEnd:]
}

// Address returns the upstream target as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// IsConnect reports whether r asks for a raw tunnel.
func (r *Request) IsConnect() bool {
	return r.Method == MethodConnect
}
