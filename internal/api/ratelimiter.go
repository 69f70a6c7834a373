package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client address. Buckets idle for
// longer than idleTTL are dropped once the table grows past maxVisitors.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	r       rate.Limit
	b       int
	idleTTL time.Duration
	now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const maxVisitors = 1000

// NewIPRateLimiter allows perSecond requests per address with the given burst.
func NewIPRateLimiter(perSecond, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		r:        rate.Limit(perSecond),
		b:        burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request from remoteAddr (host:port) may proceed.
func (rl *IPRateLimiter) Allow(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.r, rl.b)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	lim := v.limiter
	if len(rl.visitors) > maxVisitors {
		rl.purge(now)
	}
	rl.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Len returns the number of tracked addresses.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *IPRateLimiter) purge(now time.Time) {
	cutoff := now.Add(-rl.idleTTL)
	for k, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, k)
		}
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "1")
			s.sendError(w, r, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
