// Package scheduler arms cron timers that feed synthetic task messages back
// into the local dispatch pipeline.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// Task is one persisted cron entry. Five-field expressions are standard
// cron; a sixth leading field adds seconds.
type Task struct {
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	Description    string     `json:"description"`
	CreatedAt      time.Time  `json:"created_at"`
	LastFiredAt    *time.Time `json:"last_fired_at,omitempty"`
}

type armedTask struct {
	task   Task
	cancel context.CancelFunc
}

// Scheduler persists tasks to one JSON file and runs a timer goroutine per
// entry. Saving an existing name atomically swaps the timer. Missed firings
// during downtime are not back-filled.
type Scheduler struct {
	mu        sync.Mutex
	path      string
	publisher *pipeline.Publisher
	timezone  *time.Location
	parser    *gronx.Gronx
	tasks     map[string]*armedTask
	baseCtx   context.Context
	started   bool
}

func New(path string, publisher *pipeline.Publisher, timezone *time.Location) *Scheduler {
	if timezone == nil {
		timezone = time.UTC
	}
	return &Scheduler{
		path:      path,
		publisher: publisher,
		timezone:  timezone,
		parser:    gronx.New(),
		tasks:     make(map[string]*armedTask),
	}
}

// Start loads persisted tasks and arms their timers. Timers live until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.baseCtx = ctx

	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		s.armLocked(task)
	}
	slog.Info("scheduler started", "tasks", len(tasks))
	return nil
}

// Schedule validates, persists, and arms a task. An existing name is
// replaced atomically: the old timer is cancelled before the new one arms.
func (s *Scheduler) Schedule(name, cronExpression, description string) error {
	if name == "" {
		return fmt.Errorf("scheduler: task name is required")
	}
	if !s.parser.IsValid(cronExpression) {
		return fmt.Errorf("scheduler: invalid cron expression %q", cronExpression)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task := Task{
		Name:           name,
		CronExpression: cronExpression,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	}
	if prev, ok := s.tasks[name]; ok {
		task.CreatedAt = prev.task.CreatedAt
		task.LastFiredAt = prev.task.LastFiredAt
		prev.cancel()
		delete(s.tasks, name)
	}

	if err := s.persistLocked(task); err != nil {
		return err
	}
	if s.started {
		s.armLocked(task)
	} else {
		// Not started yet: remember the task, Start will arm it from disk.
		s.tasks[name] = &armedTask{task: task, cancel: func() {}}
	}
	return nil
}

// Cancel disarms and removes a task. Returns false for unknown names.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[name]
	if !ok {
		return false
	}
	entry.cancel()
	delete(s.tasks, name)
	if err := s.saveAllLocked(); err != nil {
		slog.Warn("scheduler: persist after cancel failed", "task", name, "error", err)
	}
	return true
}

// List returns the current tasks sorted by name.
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, entry := range s.tasks {
		out = append(out, entry.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextOccurrence computes a task's next fire time in the agent timezone.
func (s *Scheduler) NextOccurrence(task Task) (time.Time, error) {
	return gronx.NextTickAfter(task.CronExpression, time.Now().In(s.timezone), false)
}

// Describe implements the tools.TaskScheduler surface.
func (s *Scheduler) Describe() []tools.ScheduledTaskInfo {
	tasks := s.List()
	out := make([]tools.ScheduledTaskInfo, 0, len(tasks))
	for _, task := range tasks {
		next, err := s.NextOccurrence(task)
		if err != nil {
			slog.Warn("scheduler: next occurrence failed", "task", task.Name, "error", err)
		}
		out = append(out, tools.ScheduledTaskInfo{
			Name:           task.Name,
			CronExpression: task.CronExpression,
			Description:    task.Description,
			NextRun:        next,
		})
	}
	return out
}

// armLocked starts the timer goroutine for one task.
func (s *Scheduler) armLocked(task Task) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.tasks[task.Name] = &armedTask{task: task, cancel: cancel}

	go s.runTimer(ctx, task.Name, task.CronExpression)
}

func (s *Scheduler) runTimer(ctx context.Context, name, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now().In(s.timezone), false)
		if err != nil {
			slog.Error("scheduler: cannot compute next tick, disarming", "task", name, "error", err)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, name)
	}
}

// fire publishes the tick message and records lastFiredAt.
func (s *Scheduler) fire(ctx context.Context, name string) {
	s.mu.Lock()
	entry, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	entry.task.LastFiredAt = &now
	description := entry.task.Description
	if err := s.saveAllLocked(); err != nil {
		slog.Warn("scheduler: persist last-fired failed", "task", name, "error", err)
	}
	s.mu.Unlock()

	err := s.publisher.Publish(ctx, protocol.TopicScheduledTick, protocol.TypeScheduledTask,
		&messages.ScheduledTask{TaskName: name, Description: description})
	if err != nil {
		slog.Warn("scheduler: tick publish failed", "task", name, "error", err)
		return
	}
	slog.Debug("scheduled task fired", "task", name)
}

func (s *Scheduler) loadLocked() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduler: read tasks: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("scheduler: parse tasks: %w", err)
	}
	return tasks, nil
}

// persistLocked writes the task list including the given (new or replaced)
// task.
func (s *Scheduler) persistLocked(task Task) error {
	all := make([]Task, 0, len(s.tasks)+1)
	for _, entry := range s.tasks {
		all = append(all, entry.task)
	}
	all = append(all, task)
	return s.writeTasks(all)
}

func (s *Scheduler) saveAllLocked() error {
	all := make([]Task, 0, len(s.tasks))
	for _, entry := range s.tasks {
		all = append(all, entry.task)
	}
	return s.writeTasks(all)
}

func (s *Scheduler) writeTasks(tasks []Task) error {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rockbot-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
