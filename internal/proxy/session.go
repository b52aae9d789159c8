package proxy

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"time"

	"github.com/die-net/portcullis/internal/access"
	"github.com/die-net/portcullis/internal/httpwire"
)

// serveConn runs one client session. It never panics and always closes
// client.
func (s *Server) serveConn(client net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panic", "client", client.RemoteAddr().String(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	defer client.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Unblocks the initial read and dial on shutdown. The relay closes both
	// sides on its own.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	s.session(ctx, client)
}

func (s *Server) session(ctx context.Context, client net.Conn) {
	clientIP := remoteIP(client.RemoteAddr())
	log := s.log.With("client_ip", clientIP)

	req, err := s.readRequest(client)
	if err != nil {
		if errors.Is(err, httpwire.ErrMalformedRequest) {
			log.Debug("dropping malformed request", "err", err)
			if s.cfg.RejectMalformed {
				s.reject(client, err)
			}
		} else {
			log.Debug("no request", "err", err)
		}
		return
	}

	log = log.With("method", string(req.Method), "path", req.Path, "protocol", string(req.Protocol))

	if err := s.cfg.Gate.Check(req, clientIP); err != nil {
		switch {
		case errors.Is(err, access.ErrBlocked):
			log.Info("blocked", "host", req.Host)
		case errors.Is(err, access.ErrRateLimited):
			log.Info("login rate limit exceeded")
		default:
			log.Debug("rejected", "err", err)
		}
		s.reject(client, err)
		return
	}

	upstream, err := s.cfg.Dialer.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		log.Debug("dial failed", "address", req.Address(), "err", err)
		s.reject(client, ErrUpstreamUnreachable)
		return
	}
	defer upstream.Close()

	if err := handshake(client, upstream, req); err != nil {
		log.Debug("handshake failed", "err", err)
		return
	}

	res := runRelay(ctx, client, upstream, s.cfg.IdleTimeout, s.pool)
	log.Debug("relay finished", "reason", res.Reason.String(), "client_bytes", res.ClientBytes, "upstream_bytes", res.UpstreamBytes)

	// Tunnels carrying TLS never yield a status line.
	if res.Response != nil && res.Response.StatusCode != "" {
		log.Info("relay complete", "status", res.Response.StatusCode, "status_text", res.Response.StatusText)
	}
}

// readRequest reads and parses the first chunk from client.
func (s *Server) readRequest(client net.Conn) (*httpwire.Request, error) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	if s.cfg.ReadTimeout > 0 {
		_ = client.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	n, err := client.Read(buf)
	if n == 0 {
		if err == nil {
			err = errors.New("empty read")
		}
		return nil, err
	}
	_ = client.SetReadDeadline(time.Time{})

	// ParseRequest copies buf, so it can go back to the pool.
	return httpwire.ParseRequest(buf[:n])
}

// handshake acknowledges a CONNECT tunnel, or forwards the request with its
// proxy headers removed.
func handshake(client, upstream net.Conn, req *httpwire.Request) error {
	if req.IsConnect() {
		if _, err := client.Write(connectionEstablished); err != nil {
			return err
		}
		if payload := req.Payload(); len(payload) > 0 {
			if _, err := upstream.Write(payload); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := upstream.Write(httpwire.StripProxyHeaders(req.Raw()))
	return err
}

// reject sends the canned response for err, if any.
func (s *Server) reject(client net.Conn, err error) {
	body := cannedResponse(err)
	if body == nil {
		return
	}
	_ = client.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
	if _, werr := client.Write(body); werr != nil {
		s.log.Debug("writing response", "err", werr)
	}
}

func remoteIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
