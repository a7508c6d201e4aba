// Package subagent spawns isolated background loop runs on behalf of a
// primary session and relays their progress and results back to it.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

const DefaultMaxConcurrent = 4

const defaultTimeout = 10 * time.Minute

// Entry tracks one live subagent run.
type Entry struct {
	TaskID            string
	SubagentSessionID string
	PrimarySessionID  string
	Description       string
	StartedAt         time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager spawns, tracks, and cancels subagent runs. Each run drives a full
// loop in its own session with a restricted tool set and publishes exactly
// one SubagentResult, even when the run fails outright.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Entry

	maxConcurrent  int
	defaultTimeout time.Duration
	builder        *agent.ContextBuilder
	runner         *agent.Runner
	baseRegistry   *tools.Registry
	publisher      *pipeline.Publisher
	longterm       *memory.LongTermStore
	working        *memory.WorkingStore
	baseCtx        context.Context
}

type ManagerConfig struct {
	MaxConcurrent int // defaults to DefaultMaxConcurrent
	Builder       *agent.ContextBuilder
	Runner        *agent.Runner
	// BaseRegistry is the allowed tool set for subagents; each run gets a
	// clone extended with its own report_progress and whiteboard tools.
	BaseRegistry *tools.Registry
	Publisher    *pipeline.Publisher
	LongTerm     *memory.LongTermStore
	Working      *memory.WorkingStore
	// DefaultTimeout applies to spawns that pass none. Zero means the
	// package default.
	DefaultTimeout time.Duration
}

func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	max := cfg.MaxConcurrent
	if max <= 0 {
		max = DefaultMaxConcurrent
	}
	if cfg.BaseRegistry == nil {
		cfg.BaseRegistry = tools.NewRegistry()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dt := cfg.DefaultTimeout
	if dt <= 0 {
		dt = defaultTimeout
	}
	return &Manager{
		active:         make(map[string]*Entry),
		maxConcurrent:  max,
		defaultTimeout: dt,
		builder:        cfg.Builder,
		runner:         cfg.Runner,
		baseRegistry:   cfg.BaseRegistry,
		publisher:      cfg.Publisher,
		longterm:       cfg.LongTerm,
		working:        cfg.Working,
		baseCtx:        ctx,
	}
}

// SpawnRequest describes one background task.
type SpawnRequest struct {
	Description      string
	Context          string // optional extra context folded into the prompt
	Timeout          time.Duration
	PrimarySessionID string
}

// Spawn starts a background run and returns its task id. A full roster is an
// error, never a silent drop.
func (m *Manager) Spawn(req SpawnRequest) (string, error) {
	if strings.TrimSpace(req.Description) == "" {
		return "", fmt.Errorf("subagent: description is required")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.mu.Lock()
	if len(m.active) >= m.maxConcurrent {
		n := len(m.active)
		m.mu.Unlock()
		return "", fmt.Errorf("subagent: %d tasks already running (limit %d); wait for one to finish or cancel it", n, m.maxConcurrent)
	}

	taskID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	runCtx, cancel := context.WithTimeout(m.baseCtx, timeout)
	entry := &Entry{
		TaskID:            taskID,
		SubagentSessionID: "subagent-" + taskID,
		PrimarySessionID:  req.PrimarySessionID,
		Description:       req.Description,
		StartedAt:         time.Now().UTC(),
		cancel:            cancel,
		done:              make(chan struct{}),
	}
	m.active[taskID] = entry
	m.mu.Unlock()

	go m.run(runCtx, entry, req)
	slog.Info("subagent spawned", "task", taskID, "session", req.PrimarySessionID)
	return taskID, nil
}

// Cancel stops a running task and waits briefly for it to wind down.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	entry, ok := m.active[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	select {
	case <-entry.done:
	case <-time.After(2 * time.Second):
		slog.Warn("subagent cancel timed out waiting for termination", "task", taskID)
	}
	return true
}

// ListActive returns a snapshot of running tasks sorted by start time.
func (m *Manager) ListActive() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, Entry{
			TaskID:            e.TaskID,
			SubagentSessionID: e.SubagentSessionID,
			PrimarySessionID:  e.PrimarySessionID,
			Description:       e.Description,
			StartedAt:         e.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// run drives the subagent loop. The deferred publish makes the
// one-terminal-result guarantee unconditional.
func (m *Manager) run(ctx context.Context, entry *Entry, req SpawnRequest) {
	result := &messages.SubagentResult{
		TaskID:           entry.TaskID,
		PrimarySessionID: entry.PrimarySessionID,
		Description:      req.Description,
	}
	defer func() {
		if r := recover(); r != nil {
			result.IsSuccess = false
			result.Error = fmt.Sprintf("subagent panicked: %v", r)
			slog.Error("subagent panic", "task", entry.TaskID, "panic", r)
		}
		m.finish(entry, result)
	}()

	registry := m.baseRegistry.Clone()
	if err := registry.Register(&reportProgressTool{
		taskID:           entry.TaskID,
		primarySessionID: entry.PrimarySessionID,
		publisher:        m.publisher,
	}); err != nil {
		result.Error = fmt.Sprintf("subagent failed to start: %v", err)
		return
	}
	if m.longterm != nil {
		for _, tool := range []tools.Tool{
			&whiteboardWriteTool{taskID: entry.TaskID, store: m.longterm},
			&shareResultTool{taskID: entry.TaskID, store: m.longterm},
		} {
			if err := registry.Register(tool); err != nil {
				result.Error = fmt.Sprintf("subagent failed to start: %v", err)
				return
			}
		}
	}

	prompt := req.Description
	if strings.TrimSpace(req.Context) != "" {
		prompt += "\n\nContext from the requesting session:\n" + req.Context
	}
	chatMsgs := m.builder.Build(entry.SubagentSessionID, prompt)
	defer m.builder.ForgetSession(entry.SubagentSessionID)

	runResult, err := m.runner.Run(tools.WithNamespace(ctx, "subagent/"+entry.TaskID), agent.RunRequest{
		Messages:  chatMsgs,
		Registry:  registry,
		SessionID: entry.SubagentSessionID,
		Namespace: "subagent/" + entry.TaskID,
	})
	if err != nil {
		result.IsSuccess = false
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.Error = "subagent timed out"
		case ctx.Err() == context.Canceled:
			result.Error = "subagent cancelled"
		default:
			result.Error = err.Error()
		}
		return
	}
	result.IsSuccess = true
	result.Output = runResult.Content
}

func (m *Manager) finish(entry *Entry, result *messages.SubagentResult) {
	m.mu.Lock()
	delete(m.active, entry.TaskID)
	m.mu.Unlock()
	entry.cancel()
	close(entry.done)

	// Publish on the base context: the run context may already be cancelled.
	err := m.publisher.Publish(m.baseCtx, protocol.TopicSubagentResult, protocol.TypeSubagentResult, result)
	if err != nil {
		slog.Error("subagent result publish failed", "task", entry.TaskID, "error", err)
	}
}

// reportProgressTool lets a subagent surface interim notes to the user.
type reportProgressTool struct {
	taskID           string
	primarySessionID string
	publisher        *pipeline.Publisher
}

func (t *reportProgressTool) Name() string { return "report_progress" }
func (t *reportProgressTool) Description() string {
	return "Report a short progress note to the user while the task continues"
}
func (t *reportProgressTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note": map[string]any{"type": "string", "description": "One or two sentences of progress"},
		},
		"required":             []string{"note"},
		"additionalProperties": false,
	}
}

func (t *reportProgressTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	note, _ := args["note"].(string)
	err := t.publisher.Publish(ctx, protocol.TopicSubagentProgress, protocol.TypeSubagentProgress,
		&messages.SubagentProgress{
			TaskID:           t.taskID,
			PrimarySessionID: t.primarySessionID,
			Note:             note,
		})
	if err != nil {
		return tools.ErrorResult("progress report failed: " + err.Error()).WithError(err)
	}
	return tools.SilentResult("progress reported")
}
