package dialer

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/portcullis/internal/testutil"
)

// serveConnect plays a CONNECT proxy on c. It writes status and, on 200,
// relays to the requested target. It returns the Proxy-Authorization seen.
func serveConnect(ctx context.Context, c net.Conn, status string, extra string) string {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return ""
	}
	_ = req.Body.Close()
	auth := req.Header.Get("Proxy-Authorization")

	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return auth
	}
	if status != "200" {
		_, _ = io.WriteString(c, "HTTP/1.1 "+status+"\r\n\r\n")
		return auth
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return auth
	}
	defer dst.Close()

	_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"+extra)

	go func() {
		_, _ = io.Copy(dst, br)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	return auth
}

func TestHTTPProxyDialerDialSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	var gotAuth string
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		gotAuth = serveConnect(ctx, c, "200", "")
	})

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, u, "user", "pass")
	require.NoError(t, err)

	conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
	_ = conn.Close()

	waitUp()
	assert.Equal(t, "Basic dXNlcjpwYXNz", gotAuth)
}

func TestHTTPProxyDialerBufferedTunnelBytes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = serveConnect(ctx, c, "200", "early")
	})

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, u, "", "")
	require.NoError(t, err)

	conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)

	buf := make([]byte, len("early"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "early", string(buf))

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
	_ = conn.Close()
	waitUp()
}

func TestHTTPProxyDialerDialNon2xx(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = serveConnect(ctx, c, "403 Forbidden", "")
	})

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, u, "", "")
	require.NoError(t, err)

	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	assert.ErrorContains(t, err, "403")

	waitUp()
}

func TestHTTPProxyDialerNegotiationTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		// Never answer.
		_, _ = io.Copy(io.Discard, c)
	})

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	d, err := NewHTTPProxyDialer(Config{DialTimeout: time.Second, NegotiationTimeout: 100 * time.Millisecond}, u, "", "")
	require.NoError(t, err)

	start := time.Now()
	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	waitUp()
}

func TestHTTPProxyDialerUnsupportedNetwork(t *testing.T) {
	t.Parallel()

	d, err := NewHTTPProxyDialer(Config{}, &url.URL{Scheme: "http", Host: "127.0.0.1:1"}, "", "")
	require.NoError(t, err)

	_, err = d.DialContext(context.Background(), "udp", "127.0.0.1:53")
	assert.Error(t, err)
}
