package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogRecord is one conversation-log line: a turn plus its session.
type LogRecord struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationLog is the append-only JSONL record of every turn, one file per
// day. Unlike the in-process conversation window it survives restarts; the
// consolidation driver reads it back during dreaming.
type ConversationLog struct {
	mu   sync.Mutex
	base string
}

func NewConversationLog(base string) *ConversationLog {
	return &ConversationLog{base: base}
}

// Append writes one record. A zero timestamp gets the current time.
func (l *ConversationLog) Append(sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(&LogRecord{
		SessionID: sessionID,
		Role:      turn.Role,
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.base, 0755); err != nil {
		return err
	}
	path := filepath.Join(l.base, turn.Timestamp.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadDay returns the records logged on the given day, oldest first.
// Malformed lines are skipped.
func (l *ConversationLog) ReadDay(day time.Time) ([]LogRecord, error) {
	path := filepath.Join(l.base, day.UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []LogRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec LogRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Days lists the dates with log files, sorted ascending.
func (l *ConversationLog) Days() ([]string, error) {
	files, err := os.ReadDir(l.base)
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
		if day, ok := strings.CutSuffix(f.Name(), ".jsonl"); ok {
			out = append(out, day)
		}
	}
	return out, nil
}
