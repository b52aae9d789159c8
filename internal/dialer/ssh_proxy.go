package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/portcullis/internal/ssh"
)

// SSHProxyDialer forwards outbound TCP connections through an SSH server.
//
// One SSH transport is shared by every connection the dialer makes; each
// DialContext opens a "direct-tcpip" channel on it, like ssh -D.
//
// The transport is created on first use. If opening a channel fails at the
// transport level, the transport is discarded and the dial is retried once
// on a fresh one. Canceling a dial's context closes only that channel.
type SSHProxyDialer struct {
	sshAddr   string
	sshConfig internalssh.ClientConfig
	direct    *DirectDialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer returns a dialer that tunnels through the SSH server at
// sshAddr.
//
// Keys come from cfg.SSHKeyPath and are offered before password. Host keys
// are checked against cfg.SSHKnownHostsPath with trust on first use, or not
// at all when it is empty.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}

	signers, err := internalssh.LoadSigners(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	sshConfig := internalssh.ClientConfig{
		Username:         username,
		Password:         password,
		Signers:          signers,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := sshConfig.Validate(); err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	sshConfig.HostKeyCallback, err = internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	return &SSHProxyDialer{
		sshAddr:   sshAddr,
		sshConfig: sshConfig,
		direct:    NewDirectDialer(cfg),
	}, nil
}

// DialContext opens a channel to address over the shared SSH transport.
func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh upstream dial %s %s: unsupported network", network, address)
	}

	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	upConn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// OpenChannelError means the transport is fine and the server
		// could not reach address.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}

		d.invalidateClient(client)
		client, err2 := d.getClient(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err2)
		}
		upConn, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
		}
	}

	return upConn, nil
}

// getClient returns the shared SSH client, creating it if needed. Concurrent
// callers share one connection attempt; a caller whose ctx ends stops
// waiting without aborting the attempt for the others.
func (d *SSHProxyDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := d.sf.DoChan("connect", func() (any, error) {
		d.mu.Lock()
		if d.client != nil {
			c := d.client
			d.mu.Unlock()
			return c, nil
		}
		d.mu.Unlock()

		newClient, err := d.dialSSH(context.Background())
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.client = newClient
		d.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (d *SSHProxyDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	conn, err := d.direct.DialContext(ctx, "tcp", d.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	client, err := internalssh.Handshake(conn, d.sshAddr, d.sshConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	return client, nil
}

// invalidateClient drops client if it is still the shared one.
func (d *SSHProxyDialer) invalidateClient(client *ssh.Client) {
	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
	_ = client.Close()
}

// Close closes the shared SSH transport, if any.
func (d *SSHProxyDialer) Close() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
