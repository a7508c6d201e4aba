package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rockbotlabs/rockbot/internal/agent"
	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/messages"
	"github.com/rockbotlabs/rockbot/internal/pipeline"
)

// ProgressRelay forwards subagent progress notes to the user surface as
// non-final bubbles. No LLM call and no conversation write happens here,
// which keeps progress chatter from echoing back into the loop.
type ProgressRelay struct {
	primary *agent.UserMessageHandler
}

func NewProgressRelay(primary *agent.UserMessageHandler) *ProgressRelay {
	return &ProgressRelay{primary: primary}
}

func (r *ProgressRelay) Handle(ctx context.Context, mc *pipeline.MessageContext) error {
	msg, ok := mc.Payload.(*messages.SubagentProgress)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}
	return r.primary.PublishBubble(ctx, msg.PrimarySessionID, "subagent-"+msg.TaskID, msg.Note)
}

// ResultRelay folds a finished subagent run back into its primary session:
// one synthetic user turn, one primary loop, one final reply. Whiteboard
// scratch entries are cleaned up afterwards.
type ResultRelay struct {
	serializer *agent.Serializer
	primary    *agent.UserMessageHandler
	longterm   *memory.LongTermStore
}

func NewResultRelay(serializer *agent.Serializer, primary *agent.UserMessageHandler, longterm *memory.LongTermStore) *ResultRelay {
	return &ResultRelay{serializer: serializer, primary: primary, longterm: longterm}
}

func (r *ResultRelay) Handle(ctx context.Context, mc *pipeline.MessageContext) error {
	msg, ok := mc.Payload.(*messages.SubagentResult)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", mc.Payload)
	}

	handle, err := r.serializer.AcquireForUser(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()

	turn := r.syntheticTurn(msg)
	if err := r.primary.RunTurn(ctx, msg.PrimarySessionID, turn, memory.RoleUser); err != nil {
		return err
	}

	if r.longterm != nil {
		if n := r.longterm.DeleteCategory(whiteboardCategory(msg.TaskID)); n > 0 {
			slog.Debug("subagent whiteboard cleaned", "task", msg.TaskID, "entries", n)
		}
	}
	return nil
}

func (r *ResultRelay) syntheticTurn(msg *messages.SubagentResult) string {
	var b strings.Builder
	if msg.IsSuccess {
		fmt.Fprintf(&b, "[Subagent task %s completed]: %s", msg.TaskID, msg.Output)
	} else {
		fmt.Fprintf(&b, "[Subagent task %s failed]: %s", msg.TaskID, msg.Error)
	}

	if r.longterm != nil {
		shared := r.longterm.Search(memory.SearchCriteria{
			Category: SharedOutputCategory,
			Tags:     []string{msg.TaskID},
		})
		if len(shared) > 0 {
			ids := make([]string, 0, len(shared))
			for _, e := range shared {
				ids = append(ids, e.ID)
			}
			fmt.Fprintf(&b, "\n\nThe subagent saved shared memory entries you can read with memory_get: %s",
				strings.Join(ids, ", "))
		}
	}
	return b.String()
}
