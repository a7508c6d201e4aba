package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rockbotlabs/rockbot/internal/skills"
)

// SkillSaveTool upserts a skill. afterSave, when set, runs in the background
// after a successful save (the summary backfill job hooks in here).
type SkillSaveTool struct {
	store     *skills.Store
	afterSave func(name string)
}

func NewSkillSaveTool(store *skills.Store, afterSave func(name string)) *SkillSaveTool {
	return &SkillSaveTool{store: store, afterSave: afterSave}
}

func (t *SkillSaveTool) Name() string { return "skill_save" }
func (t *SkillSaveTool) Description() string {
	return "Save a reusable skill: a named markdown procedure you can recall in later sessions."
}
func (t *SkillSaveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Slash-separated skill name, e.g. infra/restart-service",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The skill body in markdown",
			},
		},
		"required": []string{"name", "content"},
	}
}

func (t *SkillSaveTool) Execute(ctx context.Context, args map[string]any) *Result {
	name := stringArg(args, "name")
	err := t.store.Save(skills.Skill{Name: name, Content: stringArg(args, "content")})
	if err != nil {
		return ErrorResult(fmt.Sprintf("skill save failed: %v", err)).WithError(err)
	}
	if t.afterSave != nil {
		go t.afterSave(name)
	}
	return SilentResult(fmt.Sprintf("saved skill %s", name))
}

// SkillGetTool reads one skill by name.
type SkillGetTool struct {
	store *skills.Store
	usage *skills.UsageLog
}

func NewSkillGetTool(store *skills.Store, usage *skills.UsageLog) *SkillGetTool {
	return &SkillGetTool{store: store, usage: usage}
}

func (t *SkillGetTool) Name() string        { return "skill_get" }
func (t *SkillGetTool) Description() string { return "Read the full content of a skill by name" }
func (t *SkillGetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *SkillGetTool) Execute(ctx context.Context, args map[string]any) *Result {
	name := stringArg(args, "name")
	skill := t.store.Get(name)
	if skill == nil {
		return ErrorResult("no skill with that name")
	}
	if t.usage != nil {
		_ = t.usage.Record(skills.UsageEvent{
			SessionID: SessionIDFromCtx(ctx),
			SkillName: name,
		})
	}
	return SilentResult(skill.Content)
}

// SkillListTool lists the skill index.
type SkillListTool struct {
	store *skills.Store
}

func NewSkillListTool(store *skills.Store) *SkillListTool {
	return &SkillListTool{store: store}
}

func (t *SkillListTool) Name() string        { return "skill_list" }
func (t *SkillListTool) Description() string { return "List all known skills with their summaries" }
func (t *SkillListTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *SkillListTool) Execute(ctx context.Context, args map[string]any) *Result {
	text := t.store.IndexText()
	if text == "" {
		return SilentResult("no skills saved yet")
	}
	return SilentResult(text)
}

// SkillDeleteTool removes a skill by name.
type SkillDeleteTool struct {
	store *skills.Store
}

func NewSkillDeleteTool(store *skills.Store) *SkillDeleteTool {
	return &SkillDeleteTool{store: store}
}

func (t *SkillDeleteTool) Name() string        { return "skill_delete" }
func (t *SkillDeleteTool) Description() string { return "Delete a skill by name" }
func (t *SkillDeleteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *SkillDeleteTool) Execute(ctx context.Context, args map[string]any) *Result {
	name := stringArg(args, "name")
	if err := t.store.Delete(name); err != nil {
		return ErrorResult(fmt.Sprintf("skill delete failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("deleted skill %s", name))
}

// SkillSearchTool ranks skills against a query.
type SkillSearchTool struct {
	store *skills.Store
	usage *skills.UsageLog
}

func NewSkillSearchTool(store *skills.Store, usage *skills.UsageLog) *SkillSearchTool {
	return &SkillSearchTool{store: store, usage: usage}
}

func (t *SkillSearchTool) Name() string        { return "skill_search" }
func (t *SkillSearchTool) Description() string { return "Search skills by relevance to a query" }
func (t *SkillSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string"},
			"max_results": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (t *SkillSearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query := stringArg(args, "query")
	matches := t.store.Search(query, intArg(args, "max_results"))
	if len(matches) == 0 {
		return SilentResult("no matching skills")
	}
	var b strings.Builder
	for _, skill := range matches {
		if t.usage != nil {
			_ = t.usage.Record(skills.UsageEvent{
				SessionID: SessionIDFromCtx(ctx),
				SkillName: skill.Name,
				Query:     query,
			})
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", skill.Name, skill.Content)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}
