package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen(t *testing.T) {
	t.Parallel()

	ln, err := Listen("127.0.0.1:0", 8, net.KeepAliveConfig{Enable: true, Idle: 30 * time.Second, Interval: 10 * time.Second, Count: 3})
	require.NoError(t, err)
	defer ln.Close()

	_, ok := ln.(*KeepAliveListener)
	assert.True(t, ok)

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case sc, ok := <-accepted:
		require.True(t, ok)
		_ = sc.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return")
	}
}

func TestListenBadAddress(t *testing.T) {
	t.Parallel()

	_, err := Listen("not-an-address", 8, net.KeepAliveConfig{})
	assert.Error(t, err)
}

func TestListenAddressInUse(t *testing.T) {
	t.Parallel()

	ln, err := Listen("127.0.0.1:0", 8, net.KeepAliveConfig{})
	require.NoError(t, err)
	defer ln.Close()

	// SO_REUSEADDR does not allow two live listeners on one port.
	_, err = Listen(ln.Addr().String(), 8, net.KeepAliveConfig{})
	assert.Error(t, err)
}
