package dialer

import (
	"context"
	"fmt"
	"net"
)

// DirectDialer connects straight to the target over TCP.
type DirectDialer struct {
	cfg Config
}

func NewDirectDialer(cfg Config) *DirectDialer {
	return &DirectDialer{cfg: cfg}
}

// DialContext connects to address, applying DialTimeout and the configured
// TCP keepalive.
func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{
		Timeout:         d.cfg.DialTimeout,
		KeepAliveConfig: d.cfg.KeepAlive,
	}
	if !d.cfg.KeepAlive.Enable {
		nd.KeepAlive = -1
	}

	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn, nil
}
