package proxy

import "sync"

// chunkPool recycles the fixed-size buffers used for the initial request
// read and for each relay direction.
type chunkPool struct {
	size int
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	p := &chunkPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *chunkPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:p.size]
}

func (p *chunkPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}

// Every session holds up to two relay chunks. Keep the GC from running on
// every handful of new sessions by reserving room for a full house at the
// default ceiling and chunk size; configured values do not resize it. This
// only allocates virtual memory, not RSS.
var (
	relayBallast = make([]byte, 0, 2*defaultMaxSessions*defaultChunkSize)
	_            = relayBallast
)
