package dialer

import (
	"log/slog"
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect for every outbound
	// connection, including the one to an upstream proxy.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the handshake with an upstream proxy (TLS,
	// HTTP CONNECT, SOCKS5 or SSH).
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// SSHKeyPath is "agent", a private key file, or empty for password only.
	SSHKeyPath string
	// SSHKnownHostsPath enables trust-on-first-use host key checking.
	SSHKnownHostsPath string

	// Logger is used for SSH host key events. Nil means slog.Default().
	Logger *slog.Logger
}
