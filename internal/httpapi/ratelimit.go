package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client address.
type ipRateLimiter struct {
	mutex   sync.Mutex
	limit   rate.Limit
	burst   int
	now     func() time.Time
	clients map[string]*clientLimiter
}

func newIPRateLimiter(limit rate.Limit, burst int, now func() time.Time) *ipRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &ipRateLimiter{limit: limit, burst: burst, now: now, clients: map[string]*clientLimiter{}}
}

// Allow consumes one token for the address. Idle buckets are swept on the way.
func (limiter *ipRateLimiter) Allow(address string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	now := limiter.now()
	for key, client := range limiter.clients {
		if now.Sub(client.lastSeen) > limiterIdleTTL {
			delete(limiter.clients, key)
		}
	}
	client, ok := limiter.clients[address]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.clients[address] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}
