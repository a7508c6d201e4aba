package skills

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageEvent is one skill-retrieval record in the append-only usage log.
type UsageEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	SkillName string    `json:"skill_name"`
	Query     string    `json:"query,omitempty"`
}

// UsageLog appends retrieval events as JSONL, one file per day. The
// consolidation driver reads it to decide which skills earn their keep.
type UsageLog struct {
	mu   sync.Mutex
	base string
}

func NewUsageLog(base string) *UsageLog {
	return &UsageLog{base: base}
}

// Record appends one event. Logging failures are returned but callers treat
// them as non-fatal; losing a usage event never blocks a turn.
func (l *UsageLog) Record(event UsageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(&event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.base, 0755); err != nil {
		return err
	}
	path := filepath.Join(l.base, event.Timestamp.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadDay returns the events recorded on the given day, oldest first.
// Malformed lines are skipped.
func (l *UsageLog) ReadDay(day time.Time) ([]UsageEvent, error) {
	path := filepath.Join(l.base, day.UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeUsageLines(data), nil
}

func decodeUsageLines(data []byte) []UsageEvent {
	var out []UsageEvent
	for _, line := range splitLines(data) {
		var event UsageEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		out = append(out, event)
	}
	return out
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
