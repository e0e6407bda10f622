package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long a client's bucket survives without use.
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	sweep   time.Time
}

// newIPLimiter returns nil when perSecond is not positive, which disables
// limiting.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether ip may make another call now.
func (l *ipLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweep) > limiterIdle {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.sweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}
