// Package guard throttles generation requests per client.
package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// GuardConfig holds rate limits.
type GuardConfig struct {
	// RateLimitPerMinute is the sustained request rate per client. Zero or
	// negative disables limiting.
	RateLimitPerMinute int
	// Burst is the bucket size. Defaults to RateLimitPerMinute.
	Burst int
	// MaxClients caps the number of tracked buckets. Defaults to
	// DefaultMaxClients.
	MaxClients int
}

// DefaultMaxClients is the bucket cap used when GuardConfig leaves it unset.
const DefaultMaxClients = 10000

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard keeps one token bucket per client key.
type Guard struct {
	Config GuardConfig

	mu       sync.Mutex
	limiters map[string]*bucket
	now      func() time.Time
}

// NewGuard creates a Guard with the given limits.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RateLimitPerMinute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Guard{
		Config:   cfg,
		limiters: make(map[string]*bucket),
		now:      time.Now,
	}
}

// CheckRateLimit consumes one token from client's bucket and returns
// ErrRateLimitExceeded when none is available.
func (g *Guard) CheckRateLimit(client string) error {
	if g == nil || g.Config.RateLimitPerMinute <= 0 {
		return nil
	}
	now := g.now()
	if !g.limiter(client, now).AllowN(now, 1) {
		return domain.ErrRateLimitExceeded
	}
	return nil
}

// Clients returns the number of tracked client buckets.
func (g *Guard) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

func (g *Guard) limiter(client string, now time.Time) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.limiters[client]
	if !ok {
		if len(g.limiters) >= g.Config.MaxClients {
			g.evict(now)
		}
		every := time.Minute / time.Duration(g.Config.RateLimitPerMinute)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), g.Config.Burst)}
		g.limiters[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evict drops buckets that have refilled completely, since a fresh bucket
// behaves the same. If none has, the least recently seen bucket goes.
// Caller holds g.mu.
func (g *Guard) evict(now time.Time) {
	full := float64(g.Config.Burst)
	var oldest string
	var oldestSeen time.Time
	for key, b := range g.limiters {
		if b.limiter.TokensAt(now) >= full {
			delete(g.limiters, key)
			continue
		}
		if oldest == "" || b.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = key, b.lastSeen
		}
	}
	if len(g.limiters) >= g.Config.MaxClients && oldest != "" {
		delete(g.limiters, oldest)
	}
}
