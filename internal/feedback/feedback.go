// Package feedback persists behavioral signals the agent gathers about its
// own performance: corrections, tool failures, explicit thumbs, and session
// summaries. The consolidation driver mines these during dreaming.
package feedback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signal types.
const (
	SignalCorrection     = "Correction"
	SignalToolFailure    = "ToolFailure"
	SignalSessionSummary = "SessionSummary"
	SignalUserThumbsUp   = "UserThumbsUp"
	SignalUserThumbsDown = "UserThumbsDown"
)

// Entry is one recorded feedback signal.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SignalType string    `json:"signal_type"`
	Summary    string    `json:"summary"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store appends feedback entries as JSONL, one file per session.
type Store struct {
	mu   sync.Mutex
	base string
}

func NewStore(base string) *Store {
	return &Store{base: base}
}

// Record appends an entry, assigning id and timestamp when unset.
func (s *Store) Record(entry Entry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("feedback: session id is required")
	}
	if !validSignal(entry.SignalType) {
		return fmt.Errorf("feedback: unknown signal type %q", entry.SignalType)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.base, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.sessionPath(entry.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// List returns a session's entries oldest first. Malformed lines are skipped.
func (s *Store) List(sessionID string) ([]Entry, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Sessions returns the session ids that have recorded feedback.
func (s *Store) Sessions() ([]string, error) {
	files, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(f.Name(), ".jsonl"); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Store) sessionPath(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		ok := r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			return r
		}
		return '_'
	}, sessionID)
	return filepath.Join(s.base, safe+".jsonl")
}

func validSignal(t string) bool {
	switch t {
	case SignalCorrection, SignalToolFailure, SignalSessionSummary,
		SignalUserThumbsUp, SignalUserThumbsDown:
		return true
	}
	return false
}
