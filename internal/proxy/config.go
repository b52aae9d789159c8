package proxy

import (
	"log/slog"
	"time"

	"github.com/die-net/portcullis/internal/access"
	"github.com/die-net/portcullis/internal/dialer"
)

type Config struct {
	// Logger receives session logging. Nil means slog.Default().
	Logger *slog.Logger

	// Gate admits or rejects each parsed request. Nil means a gate with no
	// blacklist or credentials, which still rejects HTTP/2.0.
	Gate *access.Gate

	Dialer dialer.Dialer

	// MaxSessions bounds concurrently active sessions.
	MaxSessions int

	// ChunkSize is the size of the initial request read and of each relay
	// read.
	ChunkSize int

	// IdleTimeout ends a relay after no traffic in either direction.
	IdleTimeout time.Duration

	// ReadTimeout bounds the wait for the initial request. Zero disables.
	ReadTimeout time.Duration

	// RejectMalformed answers unparseable requests with 400 Bad Request
	// instead of closing silently.
	RejectMalformed bool
}

const (
	defaultMaxSessions = 300
	defaultChunkSize   = 16384
	defaultIdleTimeout = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Gate == nil {
		c.Gate = access.NewGate(access.Config{})
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return c
}
