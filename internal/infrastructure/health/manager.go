// Package health runs liveness probes over the replication pipeline's
// components: store connectivity, stream state, and the dispatcher breaker.
package health

import (
	"sort"
	"sync"
	"time"

	"copytrader/internal/core"
)

// Monitor runs registered probes on demand. Components register once at
// startup; every report re-runs the probes so the result is current.
type Monitor struct {
	log core.ILogger

	mu     sync.RWMutex
	probes map[string]func() error
}

// New creates an empty Monitor.
func New(log core.ILogger) *Monitor {
	m := &Monitor{probes: make(map[string]func() error)}
	if log != nil {
		m.log = log.WithField("component", "health")
	}
	return m
}

// Register adds a probe for a component. Re-registering replaces it.
func (m *Monitor) Register(component string, probe func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
}

// Report runs every probe and returns the results ordered by component.
func (m *Monitor) Report() []core.HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UnixMilli()
	checks := make([]core.HealthCheck, 0, len(m.probes))
	for component, probe := range m.probes {
		c := core.HealthCheck{Component: component, Healthy: true, CheckedAt: now}
		if err := probe(); err != nil {
			c.Healthy = false
			c.Detail = err.Error()
			if m.log != nil {
				m.log.Warn("health probe failed", "probe", component, "error", err)
			}
		}
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Component < checks[j].Component })
	return checks
}

// IsHealthy reports whether every probe passes.
func (m *Monitor) IsHealthy() bool {
	for _, c := range m.Report() {
		if !c.Healthy {
			return false
		}
	}
	return true
}
