package access

import (
	"errors"
	"time"

	"github.com/die-net/portcullis/internal/httpwire"
)

var (
	ErrProtocolUnsupported = errors.New("protocol version not supported")
	ErrBlocked             = errors.New("host is blacklisted")
	ErrRateLimited         = errors.New("login rate limit exceeded")
	ErrAuthRequired        = errors.New("proxy authentication required")
)

// Config configures a Gate.
type Config struct {
	// Blacklist lists denied hosts. Entries of the form *.example.com also
	// deny every subdomain of example.com.
	Blacklist []string

	// Credentials enables Basic proxy authentication when non-empty.
	Credentials Credentials

	// LoginRateLimit is the number of gated requests allowed per client IP
	// within LoginRatePeriod. Zero disables the limit. The limit only
	// applies when Credentials are configured.
	LoginRateLimit  int
	LoginRatePeriod time.Duration
}

// Gate is the admission check run on every request before dialing.
// It is safe for concurrent use.
type Gate struct {
	blacklist *Blacklist
	creds     Credentials
	limiter   *LoginLimiter
}

// NewGate returns a Gate for cfg.
func NewGate(cfg Config) *Gate {
	g := &Gate{
		blacklist: NewBlacklist(cfg.Blacklist),
		creds:     cfg.Credentials,
	}
	if cfg.Credentials.Enabled() && cfg.LoginRateLimit > 0 && cfg.LoginRatePeriod > 0 {
		g.limiter = NewLoginLimiter(cfg.LoginRateLimit, cfg.LoginRatePeriod)
	}
	return g
}

// Check returns nil if req from clientIP may proceed, or the sentinel error
// of the first check that failed.
func (g *Gate) Check(req *httpwire.Request, clientIP string) error {
	if req.Protocol == httpwire.HTTP20 {
		return ErrProtocolUnsupported
	}

	if g.blacklist.Contains(req.Host) {
		return ErrBlocked
	}

	if !g.creds.Enabled() {
		return nil
	}

	if g.limiter != nil && !g.limiter.Allow(clientIP) {
		return ErrRateLimited
	}

	if !g.creds.Check(req.Header("proxy-authorization")) {
		return ErrAuthRequired
	}

	return nil
}

// Blacklist returns the gate's host blacklist.
func (g *Gate) Blacklist() *Blacklist {
	return g.blacklist
}

// Limiter returns the login rate limiter, or nil when rate limiting is off.
func (g *Gate) Limiter() *LoginLimiter {
	return g.limiter
}
