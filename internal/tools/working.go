package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rockbotlabs/rockbot/internal/memory"
)

// WorkingMemorySetTool writes a TTL-scoped scratch value. When the context
// carries a pinned namespace (subagents), keys outside it are rejected.
type WorkingMemorySetTool struct {
	store      *memory.WorkingStore
	defaultTTL time.Duration
}

func NewWorkingMemorySetTool(store *memory.WorkingStore, defaultTTL time.Duration) *WorkingMemorySetTool {
	return &WorkingMemorySetTool{store: store, defaultTTL: defaultTTL}
}

func (t *WorkingMemorySetTool) Name() string { return "working_memory_set" }
func (t *WorkingMemorySetTool) Description() string {
	return "Store a temporary value in working memory under a path-style key. Expires after the TTL."
}
func (t *WorkingMemorySetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Path-style key, e.g. session/abc/draft",
			},
			"value": map[string]any{"type": "string"},
			"ttl_seconds": map[string]any{
				"type":        "integer",
				"description": "Time to live in seconds; omit for the default",
			},
			"category": map[string]any{"type": "string"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *WorkingMemorySetTool) Execute(ctx context.Context, args map[string]any) *Result {
	key := stringArg(args, "key")
	if ns := NamespaceFromCtx(ctx); ns != "" && !strings.HasPrefix(key, ns+"/") {
		return ErrorResult(fmt.Sprintf("key must be under your namespace %s/", ns))
	}
	ttl := time.Duration(intArg(args, "ttl_seconds")) * time.Second
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	err := t.store.Set(key, stringArg(args, "value"), ttl,
		stringArg(args, "category"), stringSliceArg(args, "tags"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("working memory set failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("stored %s (expires in %s)", key, ttl))
}

// WorkingMemoryGetTool reads one live value by key. Any namespace is readable.
type WorkingMemoryGetTool struct {
	store *memory.WorkingStore
}

func NewWorkingMemoryGetTool(store *memory.WorkingStore) *WorkingMemoryGetTool {
	return &WorkingMemoryGetTool{store: store}
}

func (t *WorkingMemoryGetTool) Name() string        { return "working_memory_get" }
func (t *WorkingMemoryGetTool) Description() string { return "Read a working-memory value by key" }
func (t *WorkingMemoryGetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
		"required": []string{"key"},
	}
}

func (t *WorkingMemoryGetTool) Execute(ctx context.Context, args map[string]any) *Result {
	value, ok := t.store.Get(stringArg(args, "key"))
	if !ok {
		return ErrorResult("no live value under that key (missing or expired)")
	}
	return SilentResult(value)
}

// WorkingMemoryListTool lists live keys, optionally under a prefix.
type WorkingMemoryListTool struct {
	store *memory.WorkingStore
}

func NewWorkingMemoryListTool(store *memory.WorkingStore) *WorkingMemoryListTool {
	return &WorkingMemoryListTool{store: store}
}

func (t *WorkingMemoryListTool) Name() string { return "working_memory_list" }
func (t *WorkingMemoryListTool) Description() string {
	return "List live working-memory keys, optionally restricted to a key prefix"
}
func (t *WorkingMemoryListTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prefix": map[string]any{"type": "string"},
		},
	}
}

func (t *WorkingMemoryListTool) Execute(ctx context.Context, args map[string]any) *Result {
	entries := t.store.ListPrefix(stringArg(args, "prefix"))
	if len(entries) == 0 {
		return SilentResult("no live working-memory entries")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s (expires %s)\n", e.Key, e.ExpiresAt.Format(time.RFC3339))
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// WorkingMemorySearchTool ranks live values against a query.
type WorkingMemorySearchTool struct {
	store *memory.WorkingStore
}

func NewWorkingMemorySearchTool(store *memory.WorkingStore) *WorkingMemorySearchTool {
	return &WorkingMemorySearchTool{store: store}
}

func (t *WorkingMemorySearchTool) Name() string        { return "working_memory_search" }
func (t *WorkingMemorySearchTool) Description() string { return "Search live working-memory values" }
func (t *WorkingMemorySearchTool) Parameters() map[string]any {
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
		"required": []string{"query"},
	}
}

func (t *WorkingMemorySearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	entries := t.store.Search(memory.SearchCriteria{
		Query:      stringArg(args, "query"),
		Category:   stringArg(args, "category"),
		Tags:       stringSliceArg(args, "tags"),
		MaxResults: intArg(args, "max_results"),
	})
	if len(entries) == 0 {
		return SilentResult("no matching working-memory entries")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s:\n%s\n---\n", e.Key, e.Value)
	}
	return SilentResult(strings.TrimSuffix(b.String(), "\n---\n"))
}

// WorkingMemoryDeleteTool removes a key, honoring a pinned namespace.
type WorkingMemoryDeleteTool struct {
	store *memory.WorkingStore
}

func NewWorkingMemoryDeleteTool(store *memory.WorkingStore) *WorkingMemoryDeleteTool {
	return &WorkingMemoryDeleteTool{store: store}
}

func (t *WorkingMemoryDeleteTool) Name() string        { return "working_memory_delete" }
func (t *WorkingMemoryDeleteTool) Description() string { return "Delete a working-memory key" }
func (t *WorkingMemoryDeleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
		"required": []string{"key"},
	}
}

func (t *WorkingMemoryDeleteTool) Execute(ctx context.Context, args map[string]any) *Result {
	key := stringArg(args, "key")
	if ns := NamespaceFromCtx(ctx); ns != "" && !strings.HasPrefix(key, ns+"/") {
		return ErrorResult(fmt.Sprintf("key must be under your namespace %s/", ns))
	}
	t.store.Delete(key)
	return SilentResult(fmt.Sprintf("deleted %s", key))
}
