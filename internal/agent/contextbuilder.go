package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/profile"
	"github.com/rockbotlabs/rockbot/internal/providers"
	"github.com/rockbotlabs/rockbot/internal/skills"
)

// ContextBuilder assembles the chat message list for one turn. It never
// calls the LLM; the runner's ModelBehavior supplies the recall knobs.
type ContextBuilder struct {
	profiles      *profile.Manager
	conversations *memory.ConversationStore
	longterm      *memory.LongTermStore
	working       *memory.WorkingStore
	skillStore    *skills.Store
	indexTracker  *skills.IndexTracker
	memoryTracker *skills.DeliveryTracker
	skillTracker  *skills.DeliveryTracker
	behavior      ModelBehavior
	timezone      *time.Location
	rules         []string
	clock         func() time.Time
}

type ContextBuilderConfig struct {
	Profiles      *profile.Manager
	Conversations *memory.ConversationStore
	LongTerm      *memory.LongTermStore
	Working       *memory.WorkingStore
	Skills        *skills.Store
	Behavior      ModelBehavior
	Timezone      *time.Location
	// Rules are always-on directives injected as one bulleted system message.
	Rules []string
}

func NewContextBuilder(cfg ContextBuilderConfig) *ContextBuilder {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &ContextBuilder{
		profiles:      cfg.Profiles,
		conversations: cfg.Conversations,
		longterm:      cfg.LongTerm,
		working:       cfg.Working,
		skillStore:    cfg.Skills,
		indexTracker:  skills.NewIndexTracker(),
		memoryTracker: skills.NewDeliveryTracker(),
		skillTracker:  skills.NewDeliveryTracker(),
		behavior:      cfg.Behavior,
		timezone:      tz,
		rules:         cfg.Rules,
		clock:         time.Now,
	}
}

// Build assembles the messages for a turn: profile prompt, rules, first-turn
// skill index, fresh memory recalls, fresh skill recalls, patrol summary,
// prior turns, then the new user content.
func (b *ContextBuilder) Build(sessionID, latestUserContent string) []providers.Message {
	var msgs []providers.Message

	msgs = append(msgs, providers.Message{
		Role:    "system",
		Content: b.profiles.Current().ComposeAt(b.clock(), b.timezone),
	})

	if len(b.rules) > 0 {
		var sb strings.Builder
		sb.WriteString("Active rules:\n")
		for _, rule := range b.rules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
		msgs = append(msgs, providers.Message{Role: "system", Content: strings.TrimRight(sb.String(), "\n")})
	}

	if b.indexTracker.FirstTurn(sessionID) {
		if index := b.skillStore.IndexText(); index != "" {
			msgs = append(msgs, providers.Message{Role: "system", Content: index})
		}
	}

	if recalls := b.memoryRecalls(sessionID, latestUserContent); recalls != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: recalls})
	}

	if skillText := b.skillRecalls(sessionID, latestUserContent); skillText != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: skillText})
	}

	if patrol := b.patrolSummary(); patrol != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: patrol})
	}

	for _, turn := range b.conversations.Get(sessionID) {
		msgs = append(msgs, providers.Message{Role: turn.Role, Content: turn.Content})
	}

	msgs = append(msgs, providers.Message{Role: "user", Content: latestUserContent})
	return msgs
}

// InsertTaskDoc returns messages with an extra system message right after
// the base prompt, used by the scheduled task handler for {name}.md files.
func InsertTaskDoc(msgs []providers.Message, content string) []providers.Message {
	if len(msgs) == 0 {
		return []providers.Message{{Role: "system", Content: content}}
	}
	out := make([]providers.Message, 0, len(msgs)+1)
	out = append(out, msgs[0])
	out = append(out, providers.Message{Role: "system", Content: content})
	out = append(out, msgs[1:]...)
	return out
}

// ForgetSession drops per-session tracker state (ephemeral patrol sessions).
func (b *ContextBuilder) ForgetSession(sessionID string) {
	b.indexTracker.Forget(sessionID)
	b.memoryTracker.Forget(sessionID)
	b.skillTracker.Forget(sessionID)
}

// memoryRecalls returns the top-K long-term matches above the score floor
// that have not been injected into this session yet.
func (b *ContextBuilder) memoryRecalls(sessionID, query string) string {
	if query == "" {
		return ""
	}
	scored := b.longterm.SearchScored(memory.SearchCriteria{
		Query:      query,
		MaxResults: b.behavior.RecallTopK,
	})

	var fresh []memory.Entry
	for _, s := range scored {
		if s.Score < b.behavior.RecallScoreFloor {
			continue
		}
		if b.memoryTracker.Delivered(sessionID, s.Entry.ID) {
			continue
		}
		b.memoryTracker.Mark(sessionID, s.Entry.ID)
		fresh = append(fresh, s.Entry)
	}
	if len(fresh) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, e := range fresh {
		fmt.Fprintf(&sb, "- %s\n", e.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// skillRecalls returns the top-K matching skills not yet delivered this
// session, annotated as available rather than already applied.
func (b *ContextBuilder) skillRecalls(sessionID, query string) string {
	if query == "" {
		return ""
	}
	matches := b.skillStore.Search(query, b.behavior.RecallTopK)
	if len(matches) == 0 {
		return ""
	}
	names := make([]string, len(matches))
	byName := make(map[string]skills.Skill, len(matches))
	for i, s := range matches {
		names[i] = s.Name
		byName[s.Name] = s
	}

	var sb strings.Builder
	sb.WriteString("Available skills relevant to this request:\n")
	count := 0
	for _, name := range b.skillTracker.FilterNew(sessionID, names) {
		s := byName[name]
		fmt.Fprintf(&sb, "\n## %s\n%s\n", s.Name, s.Content)
		count++
	}
	if count == 0 {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n")
}

// patrolSummary summarizes live working-memory entries under patrol/*.
func (b *ContextBuilder) patrolSummary() string {
	entries := b.working.ListPrefix("patrol/")
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Current patrol notes:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Key, firstLine(e.Value))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
