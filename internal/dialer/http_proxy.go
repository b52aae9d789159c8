package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/die-net/portcullis/internal/access"
)

// HTTPProxyDialer reaches targets through another HTTP proxy by asking it
// for a CONNECT tunnel. For https:// proxies the hop to the proxy itself is
// TLS.
type HTTPProxyDialer struct {
	cfg    Config
	addr   string
	tls    *tls.Config
	auth   string
	direct *DirectDialer
}

// NewHTTPProxyDialer returns a CONNECT dialer for proxyURL. A non-empty
// username adds Basic Proxy-Authorization to every CONNECT.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil || proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: missing proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:    cfg,
		addr:   proxyURL.Host,
		direct: NewDirectDialer(cfg),
	}

	switch proxyURL.Scheme {
	case "http":
	case "https":
		d.tls = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme %q", proxyURL.Scheme)
	}

	if username != "" {
		d.auth = access.BasicAuthHeader(username, password)
	}
	return d, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.addr
}

// DialContext opens a tunnel to address. NegotiationTimeout bounds the TLS
// handshake and the CONNECT exchange together.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	tunnel, err := d.negotiate(ctx, c, address)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy %s connect %s: %w", d.addr, address, err)
	}
	return tunnel, nil
}

func (d *HTTPProxyDialer) negotiate(ctx context.Context, c net.Conn, address string) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	if d.tls != nil {
		tc := tls.Client(c, d.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		c = tc
	}

	if _, err := c.Write(d.connectHead(address)); err != nil {
		return nil, err
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("proxy answered %s", resp.Status)
	}

	if !stop() {
		return nil, ctx.Err()
	}
	_ = c.SetDeadline(time.Time{})

	if br.Buffered() > 0 {
		// The proxy sent tunnel bytes right behind its response.
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

func (d *HTTPProxyDialer) connectHead(address string) []byte {
	b := fmt.Appendf(nil, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", address, address)
	if d.auth != "" {
		b = fmt.Appendf(b, "Proxy-Authorization: %s\r\n", d.auth)
	}
	return append(b, "\r\n"...)
}

// bufferedConn replays bytes read ahead while parsing the CONNECT response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.r.Buffered() > 0 {
		return c.r.Read(p)
	}
	return c.Conn.Read(p)
}
