package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("proxy: server closed")

// Server accepts client connections and runs one session per connection,
// with at most MaxSessions running at once.
type Server struct {
	cfg  Config
	log  *slog.Logger
	sem  *semaphore.Weighted
	pool *chunkPool

	ctx    context.Context
	cancel context.CancelFunc

	active   atomic.Int64
	sessions sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
}

// NewServer returns a Server for cfg. Sessions inherit ctx; canceling it
// ends every relay in flight.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		cfg:       cfg,
		log:       cfg.Logger,
		sem:       semaphore.NewWeighted(int64(cfg.MaxSessions)),
		pool:      newChunkPool(cfg.ChunkSize),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
	}
}

// Serve accepts connections on ln until ln is closed or the server is
// closed. A session slot is reserved before each Accept, so when all
// MaxSessions slots are busy further clients wait in the listen backlog.
func (s *Server) Serve(ln net.Listener) error {
	if !s.track(ln) {
		return ErrServerClosed
	}
	defer s.untrack(ln)

	var backoff time.Duration
	for {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return ErrServerClosed
		}

		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.log.Error("accept failed", "err", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.startSession() {
			_ = conn.Close()
			s.sem.Release(1)
			return ErrServerClosed
		}

		s.log.Info("new connection", "client", conn.RemoteAddr().String())

		go func() {
			defer s.sessions.Done()
			defer s.sem.Release(1)
			defer s.active.Add(-1)
			s.serveConn(conn)
		}()
	}
}

// ActiveSessions returns the number of sessions currently running.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Close stops all Serve loops, closes their listeners, cancels every
// session and waits for the sessions to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	s.cancel()
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = cerr
		}
		delete(s.listeners, ln)
	}
	s.mu.Unlock()

	s.sessions.Wait()
	return err
}

// startSession registers a session unless the server is closing. Holding
// mu orders every sessions.Add before the Wait in Close.
func (s *Server) startSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.active.Add(1)
	s.sessions.Add(1)
	return true
}

func (s *Server) track(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrack(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}
