// Package ratelimit provides per-(agent, tool) token-bucket rate limiting.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds token-bucket parameters.
type Config struct {
	// MaxPerMinute is the sustained refill rate. Default 60.
	MaxPerMinute int
	// Burst is the bucket capacity. Defaults to MaxPerMinute.
	Burst int
}

// withDefaults fills zero fields with their defaults.
func (c Config) withDefaults() Config {
	if c.MaxPerMinute <= 0 {
		c.MaxPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = c.MaxPerMinute
	}
	return c
}

// Limiter enforces a token bucket per (agent, tool) key. Buckets are created
// lazily on first reference and refill continuously at MaxPerMinute/60 tokens
// per second up to Burst capacity.
//
// The bucket map is guarded by a mutex; each bucket is internally
// synchronized, so per-key operations are linearizable.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a Limiter with the given config.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		buckets: make(map[string]*rate.Limiter),
	}
}

// key builds the bucket key for an agent-tool pair.
func key(agentID, toolName string) string {
	return agentID + "\x00" + toolName
}

// bucket returns the bucket for the pair, creating it on first use.
func (l *Limiter) bucket(agentID, toolName string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(agentID, toolName)
	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(l.cfg.MaxPerMinute)/60.0), l.cfg.Burst)
		l.buckets[k] = b
	}
	return b
}

// Check refills the pair's bucket, then consumes one token if available.
// It returns false, without consuming, when the bucket is empty.
func (l *Limiter) Check(agentID, toolName string) bool {
	return l.bucket(agentID, toolName).Allow()
}

// Remaining returns the whole tokens currently available for the pair,
// without consuming any.
func (l *Limiter) Remaining(agentID, toolName string) int {
	tokens := l.bucket(agentID, toolName).Tokens()
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

// Reset discards the pair's bucket so the next check starts from a full one.
func (l *Limiter) Reset(agentID, toolName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key(agentID, toolName))
}

// Size returns the number of tracked buckets. Useful for tests and
// memory monitoring.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
