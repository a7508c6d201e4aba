package a2a

import (
	"context"
	"fmt"
	"time"

	"github.com/rockbotlabs/rockbot/internal/tools"
)

// InvokeTool lets the primary loop delegate a task to another agent.
type InvokeTool struct {
	coordinator *Coordinator
}

func NewInvokeTool(coordinator *Coordinator) *InvokeTool {
	return &InvokeTool{coordinator: coordinator}
}

func (t *InvokeTool) Name() string { return "invoke_agent" }
func (t *InvokeTool) Description() string {
	return "Ask another agent to perform one of its skills; the reply arrives as a later message"
}
func (t *InvokeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{"type": "string", "description": "Target agent from the discovery directory"},
			"skill":      map[string]any{"type": "string", "description": "Skill the target agent advertises"},
			"message":    map[string]any{"type": "string", "description": "What to ask the agent to do"},
			"timeout_minutes": map[string]any{
				"type":        "integer",
				"description": "Give up after this many minutes (default 5)",
			},
		},
		"required":             []string{"agent_name", "skill", "message"},
		"additionalProperties": false,
	}
}

func (t *InvokeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	agentName, _ := args["agent_name"].(string)
	skill, _ := args["skill"].(string)
	message, _ := args["message"].(string)
	var timeout time.Duration
	if minutes, ok := args["timeout_minutes"].(float64); ok && minutes > 0 {
		timeout = time.Duration(minutes) * time.Minute
	}

	taskID, err := t.coordinator.Invoke(ctx, agentName, skill, message, tools.SessionIDFromCtx(ctx), timeout)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf(
		"Task %s sent to agent %s. Do not wait for it; the answer will arrive as a later message.", taskID, agentName))
}
