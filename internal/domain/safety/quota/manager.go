// Package quota provides per-agent rolling-window action quotas.
package quota

import (
	"sync"
	"time"
)

// Config holds quota parameters for one agent.
type Config struct {
	// MaxActions is the number of actions allowed within the window.
	MaxActions int
	// Window is the rolling window length. Default 24h.
	Window time.Duration
}

// withDefaults fills zero fields with their defaults.
func (c Config) withDefaults() Config {
	if c.MaxActions <= 0 {
		c.MaxActions = 1000
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	return c
}

// Manager tracks per-agent action timestamps within a rolling window.
// Memory is bounded by MaxActions per active agent: entries outside the
// window are pruned on every operation for that agent.
type Manager struct {
	mu        sync.Mutex
	def       Config
	overrides map[string]Config
	usage     map[string][]time.Time
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the clock. Tests use this to pin the time.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager with the given default quota.
func NewManager(def Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		def:       def.withDefaults(),
		overrides: make(map[string]Config),
		usage:     make(map[string][]time.Time),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetQuota installs an agent-specific quota override.
func (m *Manager) SetQuota(agentID string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[agentID] = cfg.withDefaults()
}

// configFor returns the effective quota for an agent. Lock must be held.
func (m *Manager) configFor(agentID string) Config {
	if cfg, ok := m.overrides[agentID]; ok {
		return cfg
	}
	return m.def
}

// pruneLocked drops usage entries older than the window. Lock must be held.
func (m *Manager) pruneLocked(agentID string, window time.Duration) {
	cutoff := m.now().Add(-window)
	entries := m.usage[agentID]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(m.usage, agentID)
		return
	}
	m.usage[agentID] = kept
}

// Consume records one action for the agent if quota remains.
// It returns false, without recording, when the quota is exhausted.
func (m *Manager) Consume(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.configFor(agentID)
	m.pruneLocked(agentID, cfg.Window)

	if len(m.usage[agentID]) >= cfg.MaxActions {
		return false
	}
	m.usage[agentID] = append(m.usage[agentID], m.now())
	return true
}

// Remaining returns the actions still available to the agent in the window.
func (m *Manager) Remaining(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.configFor(agentID)
	m.pruneLocked(agentID, cfg.Window)

	remaining := cfg.MaxActions - len(m.usage[agentID])
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the agent's recorded usage.
func (m *Manager) Reset(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, agentID)
}
