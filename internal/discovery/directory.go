// Package discovery maintains a directory of peer agents learned from
// capability announcements on the bus.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// Record is one known agent. Persistent records come from configuration and
// survive even if the agent never announces itself.
type Record struct {
	Card       messages.AgentCard
	Persistent bool
	LastSeen   time.Time
}

// Directory tracks known agents keyed by name.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*Record

	selfCard  *messages.AgentCard
	publisher *pipeline.Publisher
}

type Config struct {
	// SelfCard, when set, is announced once on startup.
	SelfCard *messages.AgentCard
	// WellKnown seeds the directory with persistent entries from config.
	WellKnown []messages.AgentCard
	Publisher *pipeline.Publisher
}

func NewDirectory(cfg Config) *Directory {
	d := &Directory{
		agents:    make(map[string]*Record),
		selfCard:  cfg.SelfCard,
		publisher: cfg.Publisher,
	}
	for _, card := range cfg.WellKnown {
		if card.Name == "" {
			continue
		}
		d.agents[card.Name] = &Record{Card: card, Persistent: true}
	}
	return d
}

// Announce publishes our own card. Called once at startup.
func (d *Directory) Announce(ctx context.Context) error {
	if d.selfCard == nil || d.publisher == nil {
		return nil
	}
	card := *d.selfCard
	card.AnnouncedAt = time.Now().UTC()
	return d.publisher.Publish(ctx, protocol.TopicDiscoveryAnnounce, protocol.TypeAgentCard, &card)
}

// HandleAnnounce upserts an inbound card.
func (d *Directory) HandleAnnounce(ctx context.Context, mc *pipeline.MessageContext) error {
	card, ok := mc.Payload.(*messages.AgentCard)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}
	if card.Name == "" {
		slog.Warn("discovery: ignoring card without a name")
		return nil
	}
	if d.selfCard != nil && card.Name == d.selfCard.Name {
		// Our own announcement echoed back.
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	record, known := d.agents[card.Name]
	if known {
		record.Card = *card
		record.LastSeen = time.Now().UTC()
	} else {
		d.agents[card.Name] = &Record{Card: *card, LastSeen: time.Now().UTC()}
		slog.Info("discovered agent", "name", card.Name, "skills", card.Skills)
	}
	return nil
}

// Get looks up one agent by name.
func (d *Directory) Get(name string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.agents[name]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// List returns all known agents sorted by name.
func (d *Directory) List() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.agents))
	for _, record := range d.agents {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Card.Name < out[j].Card.Name })
	return out
}

// Remove drops a non-persistent agent. Persistent entries stay.
func (d *Directory) Remove(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.agents[name]
	if !ok || record.Persistent {
		return false
	}
	delete(d.agents, name)
	return true
}

// ListAgentsTool exposes the directory to the loop.
type ListAgentsTool struct {
	directory *Directory
}

func NewListAgentsTool(directory *Directory) *ListAgentsTool {
	return &ListAgentsTool{directory: directory}
}

func (t *ListAgentsTool) Name() string { return "list_agents" }
func (t *ListAgentsTool) Description() string {
	return "List other agents known to this host and the skills they advertise"
}
func (t *ListAgentsTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}

func (t *ListAgentsTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	records := t.directory.List()
	if len(records) == 0 {
		return tools.NewResult("No other agents are known.")
	}
	var b strings.Builder
	b.WriteString("Known agents:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- %s", r.Card.Name)
		if len(r.Card.Skills) > 0 {
			fmt.Fprintf(&b, " (skills: %s)", strings.Join(r.Card.Skills, ", "))
		}
		if r.Card.Description != "" {
			fmt.Fprintf(&b, ": %s", r.Card.Description)
		}
		b.WriteString("\n")
	}
	return tools.NewResult(strings.TrimRight(b.String(), "\n"))
}
