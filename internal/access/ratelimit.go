package access

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// LoginLimiter counts gated requests per client IP in fixed windows.
//
// A client may make limit requests within window, measured from the first
// request of the window. Records are evicted once their window has passed,
// which keeps the table bounded by the number of recently active clients.
type LoginLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	// mu serializes the read-modify-write in Allow; the cache itself is
	// only safe per operation.
	mu      sync.Mutex
	records *cache.Cache
}

type loginRecord struct {
	count       int
	windowStart time.Time
}

// NewLoginLimiter returns a limiter allowing limit requests per window.
func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	cleanup := window
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &LoginLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		records: cache.New(window, cleanup),
	}
}

// Allow records a request from clientIP and reports whether it is within
// the limit.
func (l *LoginLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.lookup(clientIP)
	switch {
	case !ok || now.Sub(rec.windowStart) > l.window:
		rec = loginRecord{count: 1, windowStart: now}
	case rec.count < l.limit:
		rec.count++
	default:
		return false
	}

	// Expiry is measured from this write, which is never earlier than
	// windowStart, so a record is only evicted after its window ends.
	l.records.Set(clientIP, rec, cache.DefaultExpiration)
	return true
}

// lookup treats a missing or unreadable record as a fresh client.
func (l *LoginLimiter) lookup(clientIP string) (loginRecord, bool) {
	v, ok := l.records.Get(clientIP)
	if !ok {
		return loginRecord{}, false
	}
	rec, ok := v.(loginRecord)
	return rec, ok
}

// Len returns the number of tracked clients, including expired records
// the janitor has not removed yet.
func (l *LoginLimiter) Len() int {
	return l.records.ItemCount()
}
