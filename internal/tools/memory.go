package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/internal/memory"
)

// MemorySaveTool persists a long-term memory entry.
type MemorySaveTool struct {
	store *memory.LongTermStore
}

func NewMemorySaveTool(store *memory.LongTermStore) *MemorySaveTool {
	return &MemorySaveTool{store: store}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }
func (t *MemorySaveTool) Description() string {
	return "Save a fact to long-term memory. Omit id to create a new entry; pass an existing id to update it."
}
func (t *MemorySaveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Existing entry id to update",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Slash-separated category path, e.g. user-preferences/pets",
			},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]any) *Result {
	id := stringArg(args, "id")
	if id == "" {
		id = uuid.NewString()[:8]
	}
	entry := memory.Entry{
		ID:       id,
		Content:  stringArg(args, "content"),
		Category: stringArg(args, "category"),
		Tags:     stringSliceArg(args, "tags"),
	}
	if err := t.store.Save(entry); err != nil {
		return ErrorResult(fmt.Sprintf("memory save failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("saved memory entry %s", id))
}

// MemoryGetTool reads one entry by id.
type MemoryGetTool struct {
	store *memory.LongTermStore
}

func NewMemoryGetTool(store *memory.LongTermStore) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string        { return "memory_get" }
func (t *MemoryGetTool) Description() string { return "Read a long-term memory entry by id" }
func (t *MemoryGetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string"},
		},
		"required": []string{"id"},
	}
}

func (t *MemoryGetTool) Execute(ctx context.Context, args map[string]any) *Result {
	entry := t.store.Get(stringArg(args, "id"))
	if entry == nil {
		return ErrorResult("no memory entry with that id")
	}
	return SilentResult(formatEntry(entry))
}

// MemoryDeleteTool removes one entry by id.
type MemoryDeleteTool struct {
	store *memory.LongTermStore
}

func NewMemoryDeleteTool(store *memory.LongTermStore) *MemoryDeleteTool {
	return &MemoryDeleteTool{store: store}
}

func (t *MemoryDeleteTool) Name() string        { return "memory_delete" }
func (t *MemoryDeleteTool) Description() string { return "Delete a long-term memory entry by id" }
func (t *MemoryDeleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string"},
		},
		"required": []string{"id"},
	}
}

func (t *MemoryDeleteTool) Execute(ctx context.Context, args map[string]any) *Result {
	id := stringArg(args, "id")
	if err := t.store.Delete(id); err != nil {
		return ErrorResult(fmt.Sprintf("memory delete failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("deleted memory entry %s", id))
}

// MemorySearchTool ranks long-term entries against a query.
type MemorySearchTool struct {
	store *memory.LongTermStore
}

func NewMemorySearchTool(store *memory.LongTermStore) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search long-term memory. Category matches by prefix; tags must intersect."
}
func (t *MemorySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":    map[string]any{"type": "string"},
			"category": map[string]any{"type": "string"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"max_results": map[string]any{"type": "integer"},
		},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	entries := t.store.Search(memory.SearchCriteria{
		Query:      stringArg(args, "query"),
		Category:   stringArg(args, "category"),
		Tags:       stringSliceArg(args, "tags"),
		MaxResults: intArg(args, "max_results"),
	})
	if len(entries) == 0 {
		return SilentResult("no matching memory entries")
	}
	var b strings.Builder
	for i := range entries {
		b.WriteString(formatEntry(&entries[i]))
		b.WriteString("\n---\n")
	}
	return SilentResult(strings.TrimSuffix(b.String(), "\n---\n"))
}

func formatEntry(e *memory.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.ID)
	if e.Category != "" {
		fmt.Fprintf(&b, " (%s)", e.Category)
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, " tags: %s", strings.Join(e.Tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(e.Content)
	return b.String()
}
