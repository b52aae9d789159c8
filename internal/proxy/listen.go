package proxy

import (
	"context"
	"fmt"
	"net"
)

// Listen listens for TCP on addr with SO_REUSEADDR set and the given accept
// backlog, and applies keepAliveConfig to accepted connections. The backlog
// is ignored on platforms where it cannot be set.
func Listen(addr string, backlog int, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	if backlog > 0 {
		if err := setBacklog(ln, backlog); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("listen tcp %s: backlog: %w", addr, err)
		}
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
