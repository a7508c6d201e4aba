package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rockbotlabs/rockbot/internal/tools"
)

// SpawnTool lets the primary loop start a background task.
type SpawnTool struct {
	manager *Manager
}

func NewSpawnTool(manager *Manager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }
func (t *SpawnTool) Description() string {
	return "Start a background subagent to work on a task while the conversation continues; its result arrives later"
}
func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "What the subagent should do, phrased as a complete standalone task",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Relevant background the subagent needs",
			},
			"timeout_minutes": map[string]any{
				"type":        "integer",
				"description": "Give up after this many minutes (default 10)",
			},
		},
		"required":             []string{"description"},
		"additionalProperties": false,
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	description, _ := args["description"].(string)
	extra, _ := args["context"].(string)
	var timeout time.Duration
	if minutes, ok := args["timeout_minutes"].(float64); ok && minutes > 0 {
		timeout = time.Duration(minutes) * time.Minute
	}

	taskID, err := t.manager.Spawn(SpawnRequest{
		Description:      description,
		Context:          extra,
		Timeout:          timeout,
		PrimarySessionID: tools.SessionIDFromCtx(ctx),
	})
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf(
		"Subagent task %s started. Do not wait for it; its result will arrive as a later message.", taskID))
}

// CancelTool stops a running subagent.
type CancelTool struct {
	manager *Manager
}

func NewCancelTool(manager *Manager) *CancelTool {
	return &CancelTool{manager: manager}
}

func (t *CancelTool) Name() string        { return "cancel_subagent" }
func (t *CancelTool) Description() string { return "Cancel a running subagent task by id" }
func (t *CancelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{"type": "string"},
		},
		"required":             []string{"task_id"},
		"additionalProperties": false,
	}
}

func (t *CancelTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	taskID, _ := args["task_id"].(string)
	if !t.manager.Cancel(taskID) {
		return tools.ErrorResult(fmt.Sprintf("no running subagent task %q", taskID))
	}
	return tools.NewResult(fmt.Sprintf("Subagent task %s cancelled.", taskID))
}

// ListTool reports the active subagent roster.
type ListTool struct {
	manager *Manager
}

func NewListTool(manager *Manager) *ListTool {
	return &ListTool{manager: manager}
}

func (t *ListTool) Name() string        { return "list_subagents" }
func (t *ListTool) Description() string { return "List currently running subagent tasks" }
func (t *ListTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	entries := t.manager.ListActive()
	if len(entries) == 0 {
		return tools.NewResult("No subagent tasks are running.")
	}
	var b strings.Builder
	b.WriteString("Running subagent tasks:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (started %s): %s\n",
			e.TaskID, e.StartedAt.Format(time.RFC3339), e.Description)
	}
	return tools.NewResult(strings.TrimRight(b.String(), "\n"))
}
