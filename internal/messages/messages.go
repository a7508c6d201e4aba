package messages

import "time"

// UserMessage is an inbound user turn addressed to an agent session.
type UserMessage struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	UserID    string `json:"user_id,omitempty"`
}

// AgentReply carries assistant output back to the user surface.
// Non-final replies are progress bubbles; exactly one final reply ends a turn.
type AgentReply struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	IsFinal   bool   `json:"is_final"`
	// Speaker labels progress bubbles from subagents or remote agents.
	Speaker string `json:"speaker,omitempty"`
}

// ScheduledTask is the synthetic message the scheduler fires into the local
// pipeline when a cron entry comes due.
type ScheduledTask struct {
	TaskName    string `json:"task_name"`
	Description string `json:"description"`
}

// SubagentProgress is a non-final progress report from a running subagent.
type SubagentProgress struct {
	TaskID           string `json:"task_id"`
	PrimarySessionID string `json:"primary_session_id"`
	Note             string `json:"note"`
}

// SubagentResult is the single terminal message of a subagent run.
type SubagentResult struct {
	TaskID           string `json:"task_id"`
	PrimarySessionID string `json:"primary_session_id"`
	Description      string `json:"description"`
	IsSuccess        bool   `json:"is_success"`
	Output           string `json:"output,omitempty"`
	Error            string `json:"error,omitempty"`
}

// AgentTaskRequest asks another agent to perform a skill.
type AgentTaskRequest struct {
	TaskID    string `json:"task_id"`
	Skill     string `json:"skill"`
	Message   string `json:"message"`
	FromAgent string `json:"from_agent"`
}

// A2A task states carried by AgentTaskStatusUpdate.
const (
	TaskStateWorking   = "working"
	TaskStateCompleted = "completed"
	TaskStateFailed    = "failed"
	TaskStateCancelled = "cancelled"
)

// AgentTaskStatusUpdate reports progress on a delegated task.
type AgentTaskStatusUpdate struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// AgentTaskResult is the successful terminal reply to an AgentTaskRequest.
type AgentTaskResult struct {
	TaskID string `json:"task_id"`
	Output string `json:"output"`
}

// A2A error codes.
const (
	TaskErrorExecutionFailed = "ExecutionFailed"
	TaskErrorNotCancelable   = "TaskNotCancelable"
	TaskErrorUnknownSkill    = "UnknownSkill"
)

// AgentTaskError is the failed terminal reply to an AgentTaskRequest.
type AgentTaskError struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentTaskCancel requests cancellation of a delegated task.
type AgentTaskCancel struct {
	TaskID string `json:"task_id"`
}

// AgentCard is a capability announcement published on discovery.announce.
type AgentCard struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Skills      []string  `json:"skills,omitempty"`
	AnnouncedAt time.Time `json:"announced_at"`
}
