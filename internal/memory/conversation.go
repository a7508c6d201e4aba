package memory

import (
	"sync"
	"time"
)

// Conversation turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationSession struct {
	turns   []Turn
	touched time.Time
}

// ConversationStore keeps a sliding window of recent turns per session.
// Volatile: history disappears on restart, the conversation log and long-term
// memory carry anything worth keeping.
type ConversationStore struct {
	mu          sync.RWMutex
	sessions    map[string]*conversationSession
	maxTurns    int
	idleTimeout time.Duration
}

func NewConversationStore(maxTurns int, idleTimeout time.Duration) *ConversationStore {
	if maxTurns <= 0 {
		maxTurns = 30
	}
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Hour
	}
	return &ConversationStore{
		sessions:    make(map[string]*conversationSession),
		maxTurns:    maxTurns,
		idleTimeout: idleTimeout,
	}
}

// Add appends a turn, evicting the oldest turn once the window is full.
func (s *ConversationStore) Add(sessionID string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &conversationSession{}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > s.maxTurns {
		sess.turns = sess.turns[len(sess.turns)-s.maxTurns:]
	}
	sess.touched = time.Now()
}

// Get returns a snapshot copy of the session's turns in order.
func (s *ConversationStore) Get(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Clear discards a session's history.
func (s *ConversationStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// PruneIdle drops sessions untouched for longer than the idle timeout.
// Returns the number of sessions removed.
func (s *ConversationStore) PruneIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.touched) > s.idleTimeout {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
