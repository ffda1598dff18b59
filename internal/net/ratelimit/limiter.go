// Package ratelimit provides per-vendor token buckets. The buckets are the
// service's backpressure: when a vendor quota is tight, jobs slow down at
// the acquire call instead of queueing work internally.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Limiter is one vendor's token bucket.
type Limiter struct {
	name   string
	bucket *rate.Limiter
}

// NewLimiter creates a bucket refilling at rps with the given burst capacity.
func NewLimiter(name string, rps float64, burst int) *Limiter {
	return &Limiter{
		name:   name,
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow takes a token without blocking, reporting refusal when none is
// available.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Wait blocks until a token is available or ctx is done. A cancelled wait
// returns the token it reserved, so cancellation never leaks capacity.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Stats probes the bucket without consuming capacity.
func (l *Limiter) Stats() LimiterStats {
	r := l.bucket.Reserve()
	delay := r.Delay()
	r.Cancel()

	return LimiterStats{
		Name:            l.name,
		RPS:             float64(l.bucket.Limit()),
		Burst:           l.bucket.Burst(),
		TokensAvailable: l.bucket.Tokens(),
		Delay:           delay,
	}
}

// LimiterStats describes one bucket for the status surface.
type LimiterStats struct {
	Name            string        `json:"name"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Manager holds the bucket for each external vendor.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddVendor registers a bucket for a vendor name, replacing any existing one.
func (m *Manager) AddVendor(name string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(name, rps, burst)
}

// Get returns the vendor's limiter when one is configured.
func (m *Manager) Get(name string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[name]
	return l, ok
}

// Allow takes a token for the vendor without blocking. An unconfigured
// vendor is unrestricted.
func (m *Manager) Allow(name string) bool {
	l, ok := m.Get(name)
	if !ok {
		return true
	}
	return l.Allow()
}

// Wait blocks for the vendor's token or returns a refusal error so callers
// can distinguish limiter pressure from vendor failure.
func (m *Manager) Wait(ctx context.Context, name string) error {
	l, ok := m.Get(name)
	if !ok {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrRateLimited
	}
	return nil
}

// Stats reports every configured bucket.
func (m *Manager) Stats() map[string]LimiterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(m.limiters))
	for name, l := range m.limiters {
		stats[name] = l.Stats()
	}
	return stats
}
