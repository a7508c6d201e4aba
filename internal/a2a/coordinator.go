// Package a2a delegates tasks to other agents over the bus and folds their
// answers back into the requesting session.
package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

const DefaultTaskTimeout = 5 * time.Minute

const previewLimit = 280

// PendingTask tracks one outstanding delegation.
type PendingTask struct {
	TaskID        string
	AgentName     string
	Skill         string
	SessionID     string
	RequestedAt   time.Time
	cancelTimeout context.CancelFunc
}

// Coordinator owns the outbound side of agent-to-agent delegation: it issues
// requests, tracks them by correlation id, and handles the replies.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*PendingTask

	selfName       string
	publisher      *pipeline.Publisher
	serializer     *agent.Serializer
	primary        *agent.UserMessageHandler
	working        *memory.WorkingStore
	defaultTimeout time.Duration
	baseCtx        context.Context
}

type CoordinatorConfig struct {
	SelfName   string
	Publisher  *pipeline.Publisher
	Serializer *agent.Serializer
	Primary    *agent.UserMessageHandler
	Working    *memory.WorkingStore
	// DefaultTimeout applies when the caller passes none. Zero means
	// DefaultTaskTimeout.
	DefaultTimeout time.Duration
}

func NewCoordinator(ctx context.Context, cfg CoordinatorConfig) *Coordinator {
	if ctx == nil {
		ctx = context.Background()
	}
	defaultTimeout := cfg.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTaskTimeout
	}
	return &Coordinator{
		pending:        make(map[string]*PendingTask),
		selfName:       cfg.SelfName,
		publisher:      cfg.Publisher,
		serializer:     cfg.Serializer,
		primary:        cfg.Primary,
		working:        cfg.Working,
		defaultTimeout: defaultTimeout,
		baseCtx:        ctx,
	}
}

// Invoke publishes a task request to another agent and returns the task id
// without waiting for the answer.
func (c *Coordinator) Invoke(ctx context.Context, agentName, skill, message, sessionID string, timeout time.Duration) (string, error) {
	if agentName == "" || skill == "" {
		return "", fmt.Errorf("a2a: agent_name and skill are required")
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	taskID := uuid.NewString()
	timeoutCtx, cancel := context.WithTimeout(c.baseCtx, timeout)
	task := &PendingTask{
		TaskID:        taskID,
		AgentName:     agentName,
		Skill:         skill,
		SessionID:     sessionID,
		RequestedAt:   time.Now().UTC(),
		cancelTimeout: cancel,
	}

	c.mu.Lock()
	c.pending[taskID] = task
	c.mu.Unlock()
	go c.watchTimeout(timeoutCtx, taskID)

	err := c.publisher.Publish(ctx, protocol.TopicAgentTask, protocol.TypeAgentTaskRequest,
		&messages.AgentTaskRequest{
			TaskID:    taskID,
			Skill:     skill,
			Message:   message,
			FromAgent: c.selfName,
		},
		pipeline.WithCorrelation(taskID),
		pipeline.WithReplyTo(protocol.AgentResponseTopic(c.selfName)),
		pipeline.WithDestination(agentName),
	)
	if err != nil {
		c.remove(taskID)
		return "", err
	}
	slog.Info("a2a task dispatched", "task", taskID, "agent", agentName, "skill", skill)
	return taskID, nil
}

// Pending returns a snapshot of outstanding delegations.
func (c *Coordinator) Pending() []PendingTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingTask, 0, len(c.pending))
	for _, t := range c.pending {
		out = append(out, PendingTask{
			TaskID:      t.TaskID,
			AgentName:   t.AgentName,
			Skill:       t.Skill,
			SessionID:   t.SessionID,
			RequestedAt: t.RequestedAt,
		})
	}
	return out
}

// watchTimeout drops the tracker when the task deadline passes. A timed-out
// task dies silently: no synthetic turn, no reply. A late result that arrives
// afterwards is untracked and therefore ignored.
func (c *Coordinator) watchTimeout(ctx context.Context, taskID string) {
	<-ctx.Done()
	if ctx.Err() != context.DeadlineExceeded {
		return
	}
	task := c.remove(taskID)
	if task == nil {
		return
	}
	slog.Warn("a2a task timed out", "task", taskID, "agent", task.AgentName, "skill", task.Skill)
}

// remove drops the tracker entry and stops its timeout clock.
func (c *Coordinator) remove(taskID string) *PendingTask {
	c.mu.Lock()
	task, ok := c.pending[taskID]
	if ok {
		delete(c.pending, taskID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	task.cancelTimeout()
	return task
}

// lookup returns the tracked task without removing it.
func (c *Coordinator) lookup(taskID string) *PendingTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[taskID]
}

// foldTurn runs the primary loop over a synthetic user turn under the user
// execution slot.
func (c *Coordinator) foldTurn(ctx context.Context, sessionID, content string) error {
	handle, err := c.serializer.AcquireForUser(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()
	return c.primary.RunTurn(ctx, sessionID, content, memory.RoleUser)
}

// HandleStatus processes AgentTaskStatusUpdate messages. Working states stay
// out of the LLM and conversation memory entirely; terminal states fold into
// the session as a synthetic turn.
func (c *Coordinator) HandleStatus(ctx context.Context, mc *pipeline.MessageContext) error {
	status, ok := mc.Payload.(*messages.AgentTaskStatusUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}

	task := c.lookup(status.TaskID)
	if task == nil {
		// Someone else's delegation.
		return nil
	}

	if status.State == messages.TaskStateWorking {
		note := status.Detail
		if note == "" {
			note = fmt.Sprintf("%s is working on it…", task.AgentName)
		}
		return c.primary.PublishBubble(ctx, task.SessionID, task.AgentName, note)
	}

	c.remove(status.TaskID)
	turn := fmt.Sprintf("[Agent task to %s reported state %s]: %s", task.AgentName, status.State, status.Detail)
	return c.foldTurn(ctx, task.SessionID, turn)
}

// HandleResult processes the terminal AgentTaskResult. The raw output always
// lands in working memory; only a preview and a pointer reach the LLM.
func (c *Coordinator) HandleResult(ctx context.Context, mc *pipeline.MessageContext) error {
	result, ok := mc.Payload.(*messages.AgentTaskResult)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}

	task := c.remove(result.TaskID)
	if task == nil {
		slog.Debug("a2a result for untracked task ignored", "task", result.TaskID)
		return nil
	}

	key := c.persistResult(task, result.Output)

	preview := result.Output
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "…"
	}
	if err := c.primary.PublishBubble(ctx, task.SessionID, task.AgentName, preview); err != nil {
		slog.Warn("a2a preview bubble failed", "task", result.TaskID, "error", err)
	}

	turn := fmt.Sprintf(
		"[Agent %s completed task %s (skill %s)]. The full response is stored in working memory under key %q; use working_memory_get to read it. Preview:\n%s",
		task.AgentName, task.TaskID, task.Skill, key, preview)
	return c.foldTurn(ctx, task.SessionID, turn)
}

// HandleError processes the terminal AgentTaskError.
func (c *Coordinator) HandleError(ctx context.Context, mc *pipeline.MessageContext) error {
	taskErr, ok := mc.Payload.(*messages.AgentTaskError)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}

	task := c.remove(taskErr.TaskID)
	if task == nil {
		return nil
	}
	turn := fmt.Sprintf("[Agent task to %s failed]: %s: %s", task.AgentName, taskErr.Code, taskErr.Message)
	return c.foldTurn(ctx, task.SessionID, turn)
}

// persistResult stores the raw reply, first purging earlier results from the
// same agent so the namespace holds only the freshest exchange.
func (c *Coordinator) persistResult(task *PendingTask, output string) string {
	prefix := "session/" + task.SessionID + "/a2a/" + task.AgentName + "/"
	if n := c.working.DeletePrefix(prefix); n > 0 {
		slog.Debug("purged stale a2a results", "agent", task.AgentName, "entries", n)
	}
	key := prefix + task.TaskID + "/result"
	if err := c.working.Set(key, output, 0, "", []string{"a2a-result"}); err != nil {
		slog.Warn("a2a result store failed", "key", key, "error", err)
	}
	return key
}
