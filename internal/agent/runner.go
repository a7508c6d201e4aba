package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/providers"
	"github.com/rockbotlabs/rockbot/internal/tools"
)

// ModelBehavior bundles the loop and recall knobs for one agent.
type ModelBehavior struct {
	MaxSteps         int
	ChunkThreshold   int     // tool-result length above which content moves to working memory
	RecallTopK       int     // memory/skill recalls per turn
	RecallScoreFloor float64 // minimum BM25 score for a memory recall
}

func DefaultModelBehavior() ModelBehavior {
	return ModelBehavior{
		MaxSteps:         20,
		ChunkThreshold:   10000,
		RecallTopK:       5,
		RecallScoreFloor: 0.5,
	}
}

// RunRequest is one loop invocation.
type RunRequest struct {
	Messages  []providers.Message
	Registry  *tools.Registry
	SessionID string
	// Namespace prefixes the working-memory keys chunked tool results are
	// stored under, e.g. "session/s1".
	Namespace string
}

// RunResult is the terminal outcome of a loop.
type RunResult struct {
	Content string
	// Incomplete marks output that trails off into setup for a next step the
	// loop never took (step budget exhausted mid-thought).
	Incomplete bool
	Steps      int
	Usage      providers.Usage
}

// Runner drives an LLM tool-calling session to a terminal assistant message.
type Runner struct {
	provider providers.Provider
	working  *memory.WorkingStore
	behavior ModelBehavior
	retry    providers.RetryConfig
	chunkTTL time.Duration
}

func NewRunner(provider providers.Provider, working *memory.WorkingStore, behavior ModelBehavior) *Runner {
	return &Runner{
		provider: provider,
		working:  working,
		behavior: behavior,
		retry:    providers.DefaultRetryConfig(),
		chunkTTL: time.Hour,
	}
}

// Behavior exposes the runner's knobs to the context builder.
func (r *Runner) Behavior() ModelBehavior { return r.behavior }

// WithRetryConfig overrides the transient-failure retry bounds around
// provider calls.
func (r *Runner) WithRetryConfig(cfg providers.RetryConfig) *Runner {
	r.retry = cfg
	return r
}

// Run loops until the model stops requesting tools, the step budget runs
// out, or ctx is cancelled. Tool errors come back as isError results and the
// loop continues; LLM transport errors retry with backoff and ultimately
// surface as a terminal message rather than an error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Registry == nil {
		req.Registry = tools.NewRegistry()
	}
	ctx = tools.WithSessionID(ctx, req.SessionID)

	result := &RunResult{}
	msgs := req.Messages
	defs := req.Registry.Definitions()
	var lastAssistant string

	for result.Steps = 0; result.Steps < r.behavior.MaxSteps; result.Steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := providers.RetryDo(ctx, r.retry, func() (*providers.ChatResponse, error) {
			return r.provider.Chat(ctx, providers.ChatRequest{Messages: msgs, Tools: defs})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("llm call failed after retries", "session", req.SessionID, "error", err)
			result.Content = "I hit a problem talking to the language model and could not finish this request. Please try again."
			return result, nil
		}
		if resp.Usage != nil {
			result.Usage.Add(resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			return result, nil
		}
		if resp.Content != "" {
			lastAssistant = resp.Content
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			toolResult := req.Registry.Execute(ctx, call.Name, call.Arguments)
			content := r.maybeChunk(req.Namespace, call.ID, toolResult.ForLLM)
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
				IsError:    toolResult.IsError,
			})
		}
	}

	// Step budget exhausted: synthesize a terminal message from the partial
	// progress instead of returning the dangling setup text as-is.
	result.Content = synthesizePartial(lastAssistant, result.Steps)
	result.Incomplete = true
	return result, nil
}

// maybeChunk moves oversized tool results into working memory and returns a
// directive pointing the model at the stored key. Content at or below the
// threshold passes through unchanged.
func (r *Runner) maybeChunk(namespace, callID, content string) string {
	if r.behavior.ChunkThreshold <= 0 || len(content) <= r.behavior.ChunkThreshold || r.working == nil {
		return content
	}
	if namespace == "" {
		namespace = "session/unscoped"
	}
	key := namespace + "/tool/" + callID
	if err := r.working.Set(key, content, r.chunkTTL, "", []string{"tool-result"}); err != nil {
		slog.Warn("chunked tool result store failed, passing through inline",
			"key", key, "error", err)
		return content
	}
	return fmt.Sprintf(
		"[Tool output was %d characters, too large to include inline. "+
			"It is stored in working memory under key %q. "+
			"Use the working_memory_get tool with that key to read it.]",
		len(content), key)
}

// incompleteSetupPhrases are openings a model emits when it is about to act,
// not when it has finished. Matched against the tail of the partial output.
var incompleteSetupPhrases = []string{
	"now let me",
	"let me",
	"next, i will",
	"next i will",
	"i'll now",
	"i will now",
	"first, i'll",
}

func looksIncomplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, ":") {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.ToLower(strings.TrimSpace(lines[len(lines)-1]))
	for _, phrase := range incompleteSetupPhrases {
		if strings.HasPrefix(last, phrase) {
			return true
		}
	}
	return false
}

func synthesizePartial(lastAssistant string, steps int) string {
	if strings.TrimSpace(lastAssistant) == "" {
		return fmt.Sprintf("I ran out of working steps (%d) before reaching a conclusion and have no partial result to report.", steps)
	}
	if looksIncomplete(lastAssistant) {
		return fmt.Sprintf(
			"I ran out of working steps (%d) before finishing. Progress so far, which ends mid-action and is NOT a completed result:\n\n%s",
			steps, lastAssistant)
	}
	return fmt.Sprintf(
		"I ran out of working steps (%d) before fully finishing. Partial progress:\n\n%s",
		steps, lastAssistant)
}
