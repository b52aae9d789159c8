package dialer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/portcullis/internal/testutil"
)

func TestSSHProxyDialerDialContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn1 := testutil.StartEchoTCPServer(t, ctx)
	echoLn2 := testutil.StartEchoTCPServer(t, ctx)
	sshSrv := testutil.StartSSHServer(t, ctx, "user", "pass")

	cfg := Config{
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
		SSHKnownHostsPath:  filepath.Join(t.TempDir(), "known_hosts"),
	}
	d, err := NewSSHProxyDialer(cfg, sshSrv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c1, err := d.DialContext(ctx, "tcp", echoLn1.Addr().String())
	require.NoError(t, err)
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	c2, err := d.DialContext(ctx, "tcp", echoLn2.Addr().String())
	require.NoError(t, err)
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))

	assert.Equal(t, 1, sshSrv.Connections(), "channels share one transport")
}

func TestSSHProxyDialerReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshSrv := testutil.StartSSHServer(t, ctx, "user", "pass")

	d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, sshSrv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c1, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)
	_ = c1.Close()

	// Kill the shared transport behind the dialer's back.
	d.mu.Lock()
	_ = d.client.Close()
	d.mu.Unlock()

	c2, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("again"))

	assert.Equal(t, 2, sshSrv.Connections())
}

func TestSSHProxyDialerUnreachableTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sshSrv := testutil.StartSSHServer(t, ctx, "user", "pass")

	d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, sshSrv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, 1, sshSrv.Connections(), "open channel failures keep the transport")
}

func TestSSHProxyDialerBadPassword(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sshSrv := testutil.StartSSHServer(t, ctx, "user", "pass")

	d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, sshSrv.Addr().String(), "user", "wrong")
	require.NoError(t, err)

	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	assert.Error(t, err)
}
