package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// TaskHandler executes one inbound delegated task and returns the output
// text. Implementations usually run a loop under a scheduled slot.
type TaskHandler interface {
	HandleTask(ctx context.Context, req *messages.AgentTaskRequest) (string, error)
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context, req *messages.AgentTaskRequest) (string, error)

func (f TaskHandlerFunc) HandleTask(ctx context.Context, req *messages.AgentTaskRequest) (string, error) {
	return f(ctx, req)
}

// Server answers AgentTaskRequest messages addressed to this agent: it
// acknowledges with a Working status, runs the task handler, and replies
// with exactly one result or error on the requester's reply topic.
type Server struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc

	publisher *pipeline.Publisher
	handler   TaskHandler
}

func NewServer(publisher *pipeline.Publisher, handler TaskHandler) *Server {
	return &Server{
		running:   make(map[string]context.CancelFunc),
		publisher: publisher,
		handler:   handler,
	}
}

// Handle processes one inbound task request.
func (s *Server) Handle(ctx context.Context, mc *pipeline.MessageContext) error {
	req, ok := mc.Payload.(*messages.AgentTaskRequest)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}
	// On a shared transport every agent sees agent.task; only the addressed
	// one may execute, or requesters get duplicate results per correlation.
	if dest := mc.Envelope.Destination; dest != "" && dest != s.publisher.Identity().Name {
		return nil
	}
	replyTo := mc.Envelope.ReplyTo
	if replyTo == "" {
		replyTo = protocol.AgentResponseTopic(req.FromAgent)
	}

	if err := s.publishStatus(ctx, req.TaskID, messages.TaskStateWorking, ""); err != nil {
		slog.Warn("a2a working status publish failed", "task", req.TaskID, "error", err)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[req.TaskID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, req.TaskID)
		s.mu.Unlock()
	}()

	output, err := s.handler.HandleTask(taskCtx, req)
	if err != nil {
		if taskCtx.Err() != nil {
			return s.publishStatus(ctx, req.TaskID, messages.TaskStateCancelled, taskCtx.Err().Error())
		}
		return s.publisher.Publish(ctx, replyTo, protocol.TypeAgentTaskError,
			&messages.AgentTaskError{
				TaskID:  req.TaskID,
				Code:    messages.TaskErrorExecutionFailed,
				Message: err.Error(),
			},
			pipeline.WithCorrelation(req.TaskID))
	}

	return s.publisher.Publish(ctx, replyTo, protocol.TypeAgentTaskResult,
		&messages.AgentTaskResult{TaskID: req.TaskID, Output: output},
		pipeline.WithCorrelation(req.TaskID))
}

// HandleCancel processes a cancellation request. Unknown task ids get a
// TaskNotCancelable error back.
func (s *Server) HandleCancel(ctx context.Context, mc *pipeline.MessageContext) error {
	req, ok := mc.Payload.(*messages.AgentTaskCancel)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}
	if dest := mc.Envelope.Destination; dest != "" && dest != s.publisher.Identity().Name {
		return nil
	}

	s.mu.Lock()
	cancel, running := s.running[req.TaskID]
	s.mu.Unlock()
	if !running {
		replyTo := mc.Envelope.ReplyTo
		if replyTo == "" {
			return nil
		}
		return s.publisher.Publish(ctx, replyTo, protocol.TypeAgentTaskError,
			&messages.AgentTaskError{
				TaskID:  req.TaskID,
				Code:    messages.TaskErrorNotCancelable,
				Message: "task is not running",
			},
			pipeline.WithCorrelation(req.TaskID))
	}
	cancel()
	return nil
}

// publishStatus goes to the shared status topic; every requester filters by
// its own tracked correlation ids.
func (s *Server) publishStatus(ctx context.Context, taskID, state, detail string) error {
	return s.publisher.Publish(ctx, protocol.TopicAgentTaskStatus, protocol.TypeAgentTaskStatusUpdate,
		&messages.AgentTaskStatusUpdate{TaskID: taskID, State: state, Detail: detail},
		pipeline.WithCorrelation(taskID))
}
