package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskScheduler is the narrow scheduler surface the tools need. The
// scheduler package implements it.
type TaskScheduler interface {
	Schedule(name, cronExpression, description string) error
	Cancel(name string) bool
	Describe() []ScheduledTaskInfo
}

// ScheduledTaskInfo is one armed task as shown to the model.
type ScheduledTaskInfo struct {
	Name           string
	CronExpression string
	Description    string
	NextRun        time.Time
}

// ScheduleTaskTool arms (or replaces) a recurring task.
type ScheduleTaskTool struct {
	scheduler TaskScheduler
}

func NewScheduleTaskTool(scheduler TaskScheduler) *ScheduleTaskTool {
	return &ScheduleTaskTool{scheduler: scheduler}
}

func (t *ScheduleTaskTool) Name() string { return "schedule_task" }
func (t *ScheduleTaskTool) Description() string {
	return "Schedule a recurring task by cron expression. Reusing a name replaces the existing schedule."
}
func (t *ScheduleTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Unique task name",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "5-field cron expression, or 6-field with leading seconds",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What to do when the task fires, phrased as an instruction",
			},
		},
		"required": []string{"name", "cron", "description"},
	}
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	name := stringArg(args, "name")
	err := t.scheduler.Schedule(name, stringArg(args, "cron"), stringArg(args, "description"))
	if err != nil {
		return ErrorResult(fmt.Sprintf("schedule failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("scheduled task %s", name))
}

// CancelTaskTool disarms a scheduled task.
type CancelTaskTool struct {
	scheduler TaskScheduler
}

func NewCancelTaskTool(scheduler TaskScheduler) *CancelTaskTool {
	return &CancelTaskTool{scheduler: scheduler}
}

func (t *CancelTaskTool) Name() string        { return "cancel_task" }
func (t *CancelTaskTool) Description() string { return "Cancel a scheduled task by name" }
func (t *CancelTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *CancelTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	name := stringArg(args, "name")
	if !t.scheduler.Cancel(name) {
		return ErrorResult(fmt.Sprintf("no scheduled task named %s", name))
	}
	return SilentResult(fmt.Sprintf("cancelled task %s", name))
}

// ListTasksTool shows the armed schedule.
type ListTasksTool struct {
	scheduler TaskScheduler
}

func NewListTasksTool(scheduler TaskScheduler) *ListTasksTool {
	return &ListTasksTool{scheduler: scheduler}
}

func (t *ListTasksTool) Name() string        { return "list_tasks" }
func (t *ListTasksTool) Description() string { return "List scheduled tasks and their next run times" }
func (t *ListTasksTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListTasksTool) Execute(ctx context.Context, args map[string]any) *Result {
	tasks := t.scheduler.Describe()
	if len(tasks) == 0 {
		return SilentResult("no scheduled tasks")
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "%s [%s] next %s — %s\n",
			task.Name, task.CronExpression,
			task.NextRun.Format(time.RFC3339), task.Description)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}
