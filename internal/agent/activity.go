package agent

import (
	"sync"
	"time"
)

// ActivityMonitor tracks when the user last interacted. The dream driver
// consults it so consolidation only runs while the user is away.
type ActivityMonitor struct {
	mu   sync.Mutex
	last time.Time
}

func NewActivityMonitor() *ActivityMonitor {
	return &ActivityMonitor{last: time.Now()}
}

// Touch records user activity now.
func (m *ActivityMonitor) Touch() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// IdleFor returns how long the user has been inactive.
func (m *ActivityMonitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.last)
}

// IdleSince reports whether the user has been inactive at least d.
func (m *ActivityMonitor) IdleSince(d time.Duration) bool {
	return m.IdleFor() >= d
}
