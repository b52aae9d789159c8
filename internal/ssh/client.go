package ssh

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig holds what is needed to authenticate to an SSH server.
type ClientConfig struct {
	Username string
	// Password is offered after any Signers. Optional if Signers is set.
	Password string
	Signers  []ssh.Signer

	HostKeyCallback ssh.HostKeyCallback

	// HandshakeTimeout bounds the SSH handshake. Zero means no timeout.
	HandshakeTimeout time.Duration
}

// Validate reports a config that could never authenticate.
func (c *ClientConfig) Validate() error {
	if c.Username == "" {
		return errors.New("missing username")
	}
	if c.Password == "" && len(c.Signers) == 0 {
		return errors.New("missing password or key")
	}
	return nil
}

// authMethods offers public keys first, then the password.
func (c *ClientConfig) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

// Handshake runs the SSH client handshake over conn and returns the
// resulting client. addr is the server address used for host key checks.
//
// conn is closed if the handshake fails.
func Handshake(conn net.Conn, addr string, cfg ClientConfig) (*ssh.Client, error) {
	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		_ = conn.Close()
		return nil, errors.New("ssh handshake: missing host key callback")
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.authMethods(),
		HostKeyCallback: hostKeyCallback,
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return ssh.NewClient(cc, chans, reqs), nil
}
