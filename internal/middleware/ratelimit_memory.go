package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iliyamo/videotube-accounts/internal/config"
)

// memoryLimiter keeps one token bucket per key in process memory. Buckets
// unused for longer than the configured TTL are swept lazily.
type memoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newMemoryLimiter(cfg config.RateLimitConfig) *memoryLimiter {
	per := cfg.RefillInterval
	if per <= 0 {
		per = time.Second
	}
	return &memoryLimiter{
		buckets: map[string]*bucket{},
		limit:   rate.Limit(float64(cfg.RefillTokens) / per.Seconds()),
		burst:   max(cfg.Capacity, 1),
		ttl:     cfg.TTL,
	}
}

func (m *memoryLimiter) allow(key string, now time.Time) decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now

	if b.lim.AllowN(now, 1) {
		return decision{allowed: true, remaining: int64(b.lim.TokensAt(now))}
	}
	r := b.lim.ReserveN(now, 1)
	retry := r.DelayFrom(now)
	r.CancelAt(now)
	return decision{allowed: false, remaining: 0, retry: retry}
}

func (m *memoryLimiter) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.ttl {
			delete(m.buckets, k)
		}
	}
	m.lastSweep = now
}
