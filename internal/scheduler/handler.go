package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
	"github.com/rockbotlabs/rockbot/internal/profile"
	"github.com/rockbotlabs/rockbot/internal/tools"
	"github.com/rockbotlabs/rockbot/pkg/protocol"
)

// TickHandler runs a scheduled task's loop under a background slot. User
// activity preempts it; an already-busy serializer skips the fire entirely.
type TickHandler struct {
	serializer  *agent.Serializer
	builder     *agent.ContextBuilder
	runner      *agent.Runner
	registry    *tools.Registry
	publisher   *pipeline.Publisher
	profileBase string
}

type TickHandlerConfig struct {
	Serializer *agent.Serializer
	Builder    *agent.ContextBuilder
	Runner     *agent.Runner
	Registry   *tools.Registry
	Publisher  *pipeline.Publisher
	// ProfileBase holds optional per-task {name}.md instruction files.
	ProfileBase string
}

func NewTickHandler(cfg TickHandlerConfig) *TickHandler {
	return &TickHandler{
		serializer:  cfg.Serializer,
		builder:     cfg.Builder,
		runner:      cfg.Runner,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		profileBase: cfg.ProfileBase,
	}
}

// Handle processes one ScheduledTask tick.
func (h *TickHandler) Handle(ctx context.Context, mc *pipeline.MessageContext) error {
	tick, ok := mc.Payload.(*messages.ScheduledTask)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}

	// Ephemeral session: no history accumulates across fires.
	sessionID := "patrol-" + tick.TaskName
	defer h.builder.ForgetSession(sessionID)

	chatMsgs := h.builder.Build(sessionID, tick.Description)
	if doc, ok := profile.TaskDoc(h.profileBase, tick.TaskName); ok {
		chatMsgs = agent.InsertTaskDoc(chatMsgs, doc)
	}

	slot := h.serializer.TryAcquireForScheduled(ctx)
	if slot == nil {
		slog.Info("scheduled task skipped — user active", "task", tick.TaskName)
		return nil
	}
	defer slot.Release()

	result, err := h.runner.Run(slot.Context(), agent.RunRequest{
		Messages:  chatMsgs,
		Registry:  h.registry,
		SessionID: sessionID,
		Namespace: "patrol/" + tick.TaskName,
	})
	if err != nil {
		if slot.Context().Err() != nil {
			// Preempted or shutting down: exit silently, no error reply.
			slog.Debug("scheduled task preempted", "task", tick.TaskName)
			return nil
		}
		return err
	}

	if strings.TrimSpace(result.Content) == "" {
		return nil
	}
	return h.publisher.Publish(ctx, protocol.TopicUserResponse, protocol.TypeAgentReply,
		&messages.AgentReply{
			SessionID: sessionID,
			Content:   result.Content,
			IsFinal:   true,
			Speaker:   tick.TaskName,
		})
}
