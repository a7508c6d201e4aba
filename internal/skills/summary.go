package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rockbotlabs/rockbot/internal/providers"
)

const summaryPrompt = "Summarize the following skill in at most 15 words. " +
	"Reply with the summary only, no quotes or preamble.\n\n%s"

// Summarizer backfills pending skill summaries with a short LLM call.
type Summarizer struct {
	provider providers.Provider
	store    *Store
}

func NewSummarizer(provider providers.Provider, store *Store) *Summarizer {
	return &Summarizer{provider: provider, store: store}
}

// Backfill generates and persists a summary for the named skill. Skills that
// already have one are left alone. Failures log and leave the summary
// pending; the next save retries.
func (s *Summarizer) Backfill(ctx context.Context, name string) {
	skill := s.store.Get(name)
	if skill == nil || !skill.Pending() {
		return
	}

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: fmt.Sprintf(summaryPrompt, skill.Content),
		}},
		Options: map[string]any{providers.OptMaxTokens: 60},
	})
	if err != nil {
		slog.Warn("skill summary backfill failed", "skill", name, "error", err)
		return
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		slog.Warn("skill summary backfill returned empty text", "skill", name)
		return
	}

	// Re-read in case the skill changed while the LLM call was in flight.
	current := s.store.Get(name)
	if current == nil {
		return
	}
	current.Summary = summary
	if err := s.store.Save(*current); err != nil {
		slog.Warn("skill summary save failed", "skill", name, "error", err)
		return
	}
	slog.Debug("skill summary backfilled", "skill", name, "summary", summary)
}
