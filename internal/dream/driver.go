// Package dream runs the idle-time consolidation pass: it reads the recent
// conversation log and feedback, asks the model to distill durable facts,
// and writes them into long-term memory.
package dream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/feedback"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/providers"
)

const (
	DefaultInterval      = time.Hour
	DefaultIdleThreshold = 30 * time.Minute

	maxTranscriptChars = 24000
	maxEntriesPerPass  = 10
)

// Driver owns the consolidation schedule. Each pass only proceeds while the
// user is idle and no other work holds the execution slot.
type Driver struct {
	provider   providers.Provider
	longterm   *memory.LongTermStore
	working    *memory.WorkingStore
	convlog    *memory.ConversationLog
	feedback   *feedback.Store
	activity   *agent.ActivityMonitor
	serializer *agent.Serializer

	interval      time.Duration
	idleThreshold time.Duration
	clock         func() time.Time
}

type Config struct {
	Provider        providers.Provider
	LongTerm        *memory.LongTermStore
	Working         *memory.WorkingStore
	ConversationLog *memory.ConversationLog
	Feedback        *feedback.Store
	Activity        *agent.ActivityMonitor
	Serializer      *agent.Serializer
	Interval        time.Duration // defaults to DefaultInterval
	IdleThreshold   time.Duration // defaults to DefaultIdleThreshold
}

func NewDriver(cfg Config) *Driver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	idle := cfg.IdleThreshold
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	return &Driver{
		provider:      cfg.Provider,
		longterm:      cfg.LongTerm,
		working:       cfg.Working,
		convlog:       cfg.ConversationLog,
		feedback:      cfg.Feedback,
		activity:      cfg.Activity,
		serializer:    cfg.Serializer,
		interval:      interval,
		idleThreshold: idle,
		clock:         time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				slog.Warn("dream pass failed", "error", err)
			}
		}
	}
}

// Tick runs one gated consolidation attempt. A busy serializer or an active
// user skips the pass; the next tick tries again.
func (d *Driver) Tick(ctx context.Context) error {
	if d.activity != nil && !d.activity.IdleSince(d.idleThreshold) {
		slog.Debug("dream pass skipped — user recently active")
		return nil
	}
	slot := d.serializer.TryAcquireForScheduled(ctx)
	if slot == nil {
		slog.Debug("dream pass skipped — slot held")
		return nil
	}
	defer slot.Release()

	saved, err := d.Consolidate(slot.Context())
	if err != nil {
		if slot.Context().Err() != nil {
			// Preempted by the user mid-pass. Resume at the next tick.
			return nil
		}
		return err
	}
	if saved > 0 {
		slog.Info("dream pass consolidated memories", "entries", saved)
	}
	return nil
}

// Consolidate performs one pass and returns the number of entries saved.
func (d *Driver) Consolidate(ctx context.Context) (int, error) {
	material := d.gather()
	if material == "" {
		return 0, nil
	}

	resp, err := d.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: consolidationPrompt},
			{Role: "user", Content: material},
		},
		Options: map[string]any{providers.OptTemperature: 0.2},
	})
	if err != nil {
		return 0, fmt.Errorf("dream: consolidation call: %w", err)
	}

	entries := parseEntries(resp.Content)
	if len(entries) > maxEntriesPerPass {
		entries = entries[:maxEntriesPerPass]
	}

	date := d.clock().UTC().Format("2006-01-02")
	saved := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		category := e.Category
		if category == "" {
			category = "consolidated/" + date
		}
		entry := memory.Entry{
			ID:       "dream-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Content:  e.Content,
			Category: category,
			Tags:     e.Tags,
		}
		if err := d.longterm.Save(entry); err != nil {
			slog.Warn("dream: entry save failed", "error", err)
			continue
		}
		saved++
	}

	if d.working != nil {
		if n := d.working.Sweep(); n > 0 {
			slog.Debug("dream: swept expired working entries", "entries", n)
		}
	}
	return saved, nil
}

// gather assembles the material the model distills: the last two days of
// conversation plus all recorded feedback, newest last, capped by size.
func (d *Driver) gather() string {
	var b strings.Builder

	if d.convlog != nil {
		now := d.clock().UTC()
		for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
			records, err := d.convlog.ReadDay(day)
			if err != nil {
				slog.Warn("dream: conversation log read failed", "day", day.Format("2006-01-02"), "error", err)
				continue
			}
			for _, rec := range records {
				fmt.Fprintf(&b, "[%s %s] %s: %s\n",
					rec.Timestamp.Format("15:04"), rec.SessionID, rec.Role, rec.Content)
			}
		}
	}

	if d.feedback != nil {
		sessions, err := d.feedback.Sessions()
		if err == nil {
			for _, session := range sessions {
				entries, err := d.feedback.List(session)
				if err != nil {
					continue
				}
				for _, e := range entries {
					fmt.Fprintf(&b, "[feedback %s] %s: %s\n", session, e.SignalType, e.Summary)
				}
			}
		}
	}

	material := b.String()
	if material == "" {
		return ""
	}
	if len(material) > maxTranscriptChars {
		// Keep the most recent tail.
		material = material[len(material)-maxTranscriptChars:]
	}
	return material
}

const consolidationPrompt = `You are the memory consolidation process of an agent. You are given a raw transcript of recent conversations and feedback signals.

Distill the durable facts worth remembering long term: user preferences, stable facts about people and projects, corrections the user made, and lessons from feedback. Ignore small talk, one-off details, and anything already phrased as a question.

Reply with ONLY a JSON array, each element {"content": "...", "category": "...", "tags": ["..."]}. Categories are slash-separated paths such as "user-preferences/food". Reply with [] if nothing is worth keeping.`

type proposedEntry struct {
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// parseEntries extracts the JSON array from a model reply, tolerating prose
// or code fences around it.
func parseEntries(reply string) []proposedEntry {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}
	var entries []proposedEntry
	if err := json.Unmarshal([]byte(reply[start:end+1]), &entries); err != nil {
		slog.Warn("dream: unparseable consolidation reply", "error", err)
		return nil
	}
	return entries
}
