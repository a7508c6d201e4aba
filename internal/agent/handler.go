package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// UserMessageHandler runs the primary loop for inbound user turns. It holds
// the user execution slot for the duration, preempting background work.
type UserMessageHandler struct {
	serializer    *Serializer
	builder       *ContextBuilder
	runner        *Runner
	registry      *tools.Registry
	conversations *memory.ConversationStore
	convlog       *memory.ConversationLog
	publisher     *pipeline.Publisher
	activity      *ActivityMonitor
	responseTopic string
}

type UserMessageHandlerConfig struct {
	Serializer      *Serializer
	Builder         *ContextBuilder
	Runner          *Runner
	Registry        *tools.Registry
	Conversations   *memory.ConversationStore
	ConversationLog *memory.ConversationLog
	Publisher       *pipeline.Publisher
	Activity        *ActivityMonitor
	// ResponseTopic defaults to user.response.
	ResponseTopic string
}

func NewUserMessageHandler(cfg UserMessageHandlerConfig) *UserMessageHandler {
	topic := cfg.ResponseTopic
	if topic == "" {
		topic = protocol.TopicUserResponse
	}
	return &UserMessageHandler{
		serializer:    cfg.Serializer,
		builder:       cfg.Builder,
		runner:        cfg.Runner,
		registry:      cfg.Registry,
		conversations: cfg.Conversations,
		convlog:       cfg.ConversationLog,
		publisher:     cfg.Publisher,
		activity:      cfg.Activity,
		responseTopic: topic,
	}
}

// Handle processes one UserMessage through the primary loop and publishes
// exactly one final AgentReply (or an error reply).
func (h *UserMessageHandler) Handle(ctx context.Context, mc *pipeline.MessageContext) error {
	msg, ok := mc.Payload.(*messages.UserMessage)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}
	if h.activity != nil {
		h.activity.Touch()
	}

	handle, err := h.serializer.AcquireForUser(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()

	return h.RunTurn(ctx, msg.SessionID, msg.Content, memory.RoleUser)
}

// RunTurn builds context, runs the loop, records both turns, and publishes
// the final reply. Synthetic turns (subagent results, A2A folds) reuse it
// with their own role-tagged content.
func (h *UserMessageHandler) RunTurn(ctx context.Context, sessionID, content, recordRole string) error {
	chatMsgs := h.builder.Build(sessionID, content)

	result, err := h.runner.Run(ctx, RunRequest{
		Messages:  chatMsgs,
		Registry:  h.registry,
		SessionID: sessionID,
		Namespace: "session/" + sessionID,
	})
	if err != nil {
		// Cancellation: no reply from a cancelled branch.
		return err
	}

	h.recordTurn(sessionID, memory.Turn{Role: recordRole, Content: content})
	h.recordTurn(sessionID, memory.Turn{Role: memory.RoleAssistant, Content: result.Content})

	return h.publisher.Publish(ctx, h.responseTopic, protocol.TypeAgentReply, &messages.AgentReply{
		SessionID: sessionID,
		Content:   result.Content,
		IsFinal:   true,
	})
}

// PublishBubble sends a non-final progress reply without touching
// conversation memory.
func (h *UserMessageHandler) PublishBubble(ctx context.Context, sessionID, speaker, content string) error {
	return h.publisher.Publish(ctx, h.responseTopic, protocol.TypeAgentReply, &messages.AgentReply{
		SessionID: sessionID,
		Content:   content,
		IsFinal:   false,
		Speaker:   speaker,
	})
}

func (h *UserMessageHandler) recordTurn(sessionID string, turn memory.Turn) {
	h.conversations.Add(sessionID, turn)
	if h.convlog != nil {
		if err := h.convlog.Append(sessionID, turn); err != nil {
			slog.Warn("conversation log append failed", "session", sessionID, "error", err)
		}
	}
}
