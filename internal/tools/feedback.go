package tools

import (
	"context"
	"fmt"

	"github.com/rockbotlabs/rockbot/internal/feedback"
)

// RecordFeedbackTool lets the agent log behavioral signals about its own
// performance for later consolidation.
type RecordFeedbackTool struct {
	store *feedback.Store
}

func NewRecordFeedbackTool(store *feedback.Store) *RecordFeedbackTool {
	return &RecordFeedbackTool{store: store}
}

func (t *RecordFeedbackTool) Name() string { return "record_feedback" }
func (t *RecordFeedbackTool) Description() string {
	return "Record a feedback signal about this session: a user correction, a tool failure, a thumbs up/down, or a session summary."
}
func (t *RecordFeedbackTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"signal_type": map[string]any{
				"type": "string",
				"enum": []string{
					feedback.SignalCorrection,
					feedback.SignalToolFailure,
					feedback.SignalSessionSummary,
					feedback.SignalUserThumbsUp,
					feedback.SignalUserThumbsDown,
				},
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "One-line description of the signal",
			},
			"detail": map[string]any{"type": "string"},
		},
		"required": []string{"signal_type", "summary"},
	}
}

func (t *RecordFeedbackTool) Execute(ctx context.Context, args map[string]any) *Result {
	sessionID := SessionIDFromCtx(ctx)
	if sessionID == "" {
		return ErrorResult("no session in scope for feedback")
	}
	err := t.store.Record(feedback.Entry{
		SessionID:  sessionID,
		SignalType: stringArg(args, "signal_type"),
		Summary:    stringArg(args, "summary"),
		Detail:     stringArg(args, "detail"),
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("feedback record failed: %v", err)).WithError(err)
	}
	return SilentResult("feedback recorded")
}
