package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CodeRateLimited is returned when a caller exceeds its write rate.
const CodeRateLimited = "RATE_LIMITED"

// writeLimiter hands out one token bucket per caller. Guests share the
// bucket of their remote host. A bucket left alone long enough to refill
// is indistinguishable from a new one, so sweep drops it.
type writeLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newWriteLimiter(perSecond float64, burst int) *writeLimiter {
	idle := time.Minute
	if perSecond > 0 {
		if full := time.Duration(float64(burst) / perSecond * float64(time.Second)); full > idle {
			idle = full
		}
	}
	return &writeLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *writeLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.swept) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets unused for a full refill period. Caller holds mu.
func (l *writeLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}

// limitWrites rejects requests over the caller's rate with 429. Behind
// authenticate, signed-in users are keyed by id.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		key := "addr:" + host
		if who := identityFrom(r.Context()); who.ID != "" {
			key = "user:" + who.ID
		}
		if !s.limiter.allow(key) {
			rateLimitedTotal.Inc()
			writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{
				Code:    CodeRateLimited,
				Message: "too many writes, slow down",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
