package skills

import "sync"

// DeliveryTracker remembers which items have already been injected into a
// session's context, so the builder never repeats a skill or memory recall.
type DeliveryTracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{sessions: make(map[string]map[string]struct{})}
}

// Delivered reports whether the item was already delivered to the session.
func (t *DeliveryTracker) Delivered(sessionID, item string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID][item]
	return ok
}

// Mark records the item as delivered.
func (t *DeliveryTracker) Mark(sessionID, item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items, ok := t.sessions[sessionID]
	if !ok {
		items = make(map[string]struct{})
		t.sessions[sessionID] = items
	}
	items[item] = struct{}{}
}

// FilterNew returns the items not yet delivered and marks them delivered.
func (t *DeliveryTracker) FilterNew(sessionID string, items []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.sessions[sessionID]
	if !ok {
		seen = make(map[string]struct{})
		t.sessions[sessionID] = seen
	}
	var out []string
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Forget drops all state for a session.
func (t *DeliveryTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// IndexTracker records which sessions have already received the full skill
// index. FirstTurn returns true exactly once per session.
type IndexTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewIndexTracker() *IndexTracker {
	return &IndexTracker{seen: make(map[string]struct{})}
}

func (t *IndexTracker) FirstTurn(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[sessionID]; ok {
		return false
	}
	t.seen[sessionID] = struct{}{}
	return true
}

func (t *IndexTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, sessionID)
}
