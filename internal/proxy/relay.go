package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/portcullis/internal/httpwire"
)

// RelayReason says why a relay ended. None of them are errors.
type RelayReason int

const (
	// PeerClosed means one side closed its connection.
	PeerClosed RelayReason = iota
	// IdleTimeout means neither side sent anything for the idle timeout.
	IdleTimeout
	// IOFailure means a read or write failed mid-relay, e.g. a reset.
	IOFailure
	// Canceled means the relay's context was canceled.
	Canceled
)

func (r RelayReason) String() string {
	switch r {
	case PeerClosed:
		return "peer closed"
	case IdleTimeout:
		return "idle timeout"
	case IOFailure:
		return "io failure"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RelayResult summarizes a finished relay.
type RelayResult struct {
	Reason RelayReason

	// Response is the status line sniffed from the first upstream chunk,
	// or nil if upstream never sent anything.
	Response *httpwire.ResponseSummary

	// ClientBytes were copied client to upstream; UpstreamBytes the other
	// way.
	ClientBytes   int64
	UpstreamBytes int64
}

type relay struct {
	idle time.Duration
	pool *chunkPool

	// lastActivity is the UnixNano of the last successful read in either
	// direction.
	lastActivity atomic.Int64

	reasonOnce sync.Once
	reason     RelayReason

	response *httpwire.ResponseSummary
}

var errRelayDone = errors.New("relay done")

// Relay copies bytes between client and upstream until either side closes,
// an I/O error occurs, both directions are idle for idle, or ctx is
// canceled. Each read is at most chunkSize bytes. Both connections are
// closed when Relay returns.
func Relay(ctx context.Context, client, upstream net.Conn, idle time.Duration, chunkSize int) RelayResult {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return runRelay(ctx, client, upstream, idle, newChunkPool(chunkSize))
}

func runRelay(ctx context.Context, client, upstream net.Conn, idle time.Duration, pool *chunkPool) RelayResult {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	r := &relay{idle: idle, pool: pool}
	r.touch()

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	var res RelayResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.pump(upstream, client, &res.ClientBytes, nil)
	})

	g.Go(func() error {
		return r.pump(client, upstream, &res.UpstreamBytes, r.sniff)
	})

	// The first direction to finish, or ctx, unblocks the other by closing
	// both sides.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			r.finish(Canceled)
		}
		closeBoth()
		return nil
	})

	_ = g.Wait()

	res.Reason = r.reason
	res.Response = r.response
	return res
}

// pump copies src to dst. It always returns a non-nil error so the errgroup
// context is canceled when either direction stops.
func (r *relay) pump(dst, src net.Conn, total *int64, first func([]byte)) error {
	buf := r.pool.Get()
	defer r.pool.Put(buf)

	for {
		_ = src.SetReadDeadline(time.Now().Add(r.idle))
		n, err := src.Read(buf)
		if n > 0 {
			r.touch()
			if first != nil {
				first(buf[:n])
				first = nil
			}

			_ = dst.SetWriteDeadline(time.Now().Add(r.idle))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				r.finish(reasonFor(werr))
				return werr
			}
			*total += int64(n)
		}

		if err == nil {
			continue
		}

		if errors.Is(err, os.ErrDeadlineExceeded) {
			// The other direction may still be busy.
			if r.idleFor() < r.idle {
				continue
			}
			r.finish(IdleTimeout)
			return errRelayDone
		}

		r.finish(reasonFor(err))
		return err
	}
}

func (r *relay) sniff(chunk []byte) {
	summary := httpwire.SniffResponse(chunk)
	r.response = &summary
}

func (r *relay) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

func (r *relay) idleFor() time.Duration {
	return time.Since(time.Unix(0, r.lastActivity.Load()))
}

// finish records the reason the relay ended. Only the first call counts.
func (r *relay) finish(reason RelayReason) {
	r.reasonOnce.Do(func() {
		r.reason = reason
	})
}

func reasonFor(err error) RelayReason {
	switch {
	case errors.Is(err, io.EOF):
		return PeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return IdleTimeout
	default:
		return IOFailure
	}
}
