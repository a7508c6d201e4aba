package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/tools"
)

// whiteboardCategory scopes a run's scratch notes. The relay deletes the
// whole category once the primary session has folded the result in.
func whiteboardCategory(taskID string) string {
	return "subagent-whiteboards/" + taskID
}

// SharedOutputCategory holds results a subagent explicitly hands over to the
// primary session. Entries are tagged with the task id and survive cleanup.
const SharedOutputCategory = "subagent-output"

// whiteboardWriteTool gives a subagent a scratch surface in long-term memory.
type whiteboardWriteTool struct {
	taskID string
	store  *memory.LongTermStore
}

func (t *whiteboardWriteTool) Name() string { return "whiteboard_write" }
func (t *whiteboardWriteTool) Description() string {
	return "Jot an intermediate note on this task's scratch whiteboard"
}
func (t *whiteboardWriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "The note to record"},
		},
		"required":             []string{"content"},
		"additionalProperties": false,
	}
}

func (t *whiteboardWriteTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return tools.ErrorResult("content is empty")
	}
	id := t.taskID + "-wb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	err := t.store.Save(memory.Entry{
		ID:       id,
		Content:  content,
		Category: whiteboardCategory(t.taskID),
	})
	if err != nil {
		return tools.ErrorResult("whiteboard write failed: " + err.Error()).WithError(err)
	}
	return tools.SilentResult(fmt.Sprintf("noted on whiteboard as %s", id))
}

// shareResultTool persists a finding for the primary session to pick up.
type shareResultTool struct {
	taskID string
	store  *memory.LongTermStore
}

func (t *shareResultTool) Name() string { return "share_result" }
func (t *shareResultTool) Description() string {
	return "Save a finding to shared memory so the requesting session can read it after this task ends"
}
func (t *shareResultTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "The finding to hand over"},
		},
		"required":             []string{"content"},
		"additionalProperties": false,
	}
}

func (t *shareResultTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return tools.ErrorResult("content is empty")
	}
	id := t.taskID + "-out-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	err := t.store.Save(memory.Entry{
		ID:       id,
		Content:  content,
		Category: SharedOutputCategory,
		Tags:     []string{t.taskID},
	})
	if err != nil {
		return tools.ErrorResult("shared save failed: " + err.Error()).WithError(err)
	}
	return tools.SilentResult(fmt.Sprintf("saved shared result %s", id))
}
