package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rockbotlabs/rockbot/internal/memory"
	"github.com/rockbotlabs/rockbot/internal/providers"
	"github.com/rockbotlabs/rockbot/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
	err       error
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.ChatResponse{Content: "default", FinishReason: "stop"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }
func (p *scriptedProvider) Name() string         { return "scripted" }

type fixedTool struct {
	name   string
	output string
	isErr  bool
	calls  []map[string]any
}

func (t *fixedTool) Name() string               { return t.name }
func (t *fixedTool) Description() string        { return "fixed output" }
func (t *fixedTool) Parameters() map[string]any { return nil }
func (t *fixedTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	t.calls = append(t.calls, args)
	if t.isErr {
		return tools.ErrorResult(t.output)
	}
	return tools.NewResult(t.output)
}

func newTestRunner(t *testing.T, p providers.Provider, behavior ModelBehavior) (*Runner, *memory.WorkingStore) {
	t.Helper()
	working := memory.NewWorkingStore(t.TempDir(), time.Hour, 100)
	return NewRunner(p, working, behavior), working
}

func TestRunnerSimpleTurn(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	r, _ := newTestRunner(t, p, DefaultModelBehavior())

	result, err := r.Run(context.Background(), RunRequest{
		Messages:  []providers.Message{{Role: "user", Content: "hi"}},
		SessionID: "s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "hello there" || result.Incomplete {
		t.Errorf("result = %+v", result)
	}
	if result.Steps != 0 {
		t.Errorf("steps = %d", result.Steps)
	}
}

func TestRunnerToolLoopOrdering(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "c1", Name: "first"},
				{ID: "c2", Name: "second"},
			},
		},
		{Content: "done", FinishReason: "stop"},
	}}
	r, _ := newTestRunner(t, p, DefaultModelBehavior())

	reg := tools.NewRegistry()
	if err := reg.Register(&fixedTool{name: "first", output: "out1"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&fixedTool{name: "second", output: "out2"}); err != nil {
		t.Fatal(err)
	}

	result, err := r.Run(context.Background(), RunRequest{
		Messages:  []providers.Message{{Role: "user", Content: "go"}},
		Registry:  reg,
		SessionID: "s1",
		Namespace: "session/s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "done" {
		t.Errorf("content = %q", result.Content)
	}

	// The second request carries the assistant tool-call message followed by
	// tool results in call order.
	second := p.requests[1].Messages
	n := len(second)
	if second[n-2].ToolCallID != "c1" || second[n-2].Content != "out1" {
		t.Errorf("first tool result wrong: %+v", second[n-2])
	}
	if second[n-1].ToolCallID != "c2" || second[n-1].Content != "out2" {
		t.Errorf("second tool result wrong: %+v", second[n-1])
	}
}

func TestRunnerChunksOversizedToolResult(t *testing.T) {
	big := strings.Repeat("x", 50000)
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{FinishReason: "tool_calls", ToolCalls: []providers.ToolCall{{ID: "call-9", Name: "dump"}}},
		{Content: "final text", FinishReason: "stop"},
	}}
	behavior := DefaultModelBehavior()
	behavior.ChunkThreshold = 10000
	r, working := newTestRunner(t, p, behavior)

	reg := tools.NewRegistry()
	if err := reg.Register(&fixedTool{name: "dump", output: big}); err != nil {
		t.Fatal(err)
	}

	result, err := r.Run(context.Background(), RunRequest{
		Messages:  []providers.Message{{Role: "user", Content: "dump it"}},
		Registry:  reg,
		SessionID: "s1",
		Namespace: "session/s1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "final text" {
		t.Errorf("content = %q", result.Content)
	}

	// The stored value is the verbatim original; the appended message is a
	// short directive naming the key.
	key := "session/s1/tool/call-9"
	stored, ok := working.Get(key)
	if !ok || stored != big {
		t.Fatalf("chunked content not stored intact under %s", key)
	}
	entry, _ := working.GetEntry(key)
	if len(entry.Tags) != 1 || entry.Tags[0] != "tool-result" {
		t.Errorf("chunk entry tags = %v", entry.Tags)
	}

	toolMsg := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if len(toolMsg.Content) > 1000 || !strings.Contains(toolMsg.Content, key) ||
		!strings.Contains(toolMsg.Content, "working_memory_get") {
		t.Errorf("directive message wrong: %q", toolMsg.Content)
	}
}

func TestRunnerToolErrorContinuesLoop(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{FinishReason: "tool_calls", ToolCalls: []providers.ToolCall{{ID: "c1", Name: "broken"}}},
		{Content: "recovered", FinishReason: "stop"},
	}}
	r, _ := newTestRunner(t, p, DefaultModelBehavior())

	reg := tools.NewRegistry()
	if err := reg.Register(&fixedTool{name: "broken", output: "boom", isErr: true}); err != nil {
		t.Fatal(err)
	}

	result, err := r.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "try"}},
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "recovered" {
		t.Errorf("content = %q", result.Content)
	}
	toolMsg := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	if !toolMsg.IsError || toolMsg.Content != "boom" {
		t.Errorf("error tool result not flagged: %+v", toolMsg)
	}
}

func TestRunnerMaxStepsSynthesizesPartial(t *testing.T) {
	// Every response requests another tool call; the loop never terminates
	// on its own.
	toolResp := &providers.ChatResponse{
		Content:      "Now let me check the logs:",
		FinishReason: "tool_calls",
		ToolCalls:    []providers.ToolCall{{ID: "c", Name: "noop"}},
	}
	behavior := DefaultModelBehavior()
	behavior.MaxSteps = 3
	p := &scriptedProvider{responses: []*providers.ChatResponse{toolResp, toolResp, toolResp}}
	r, _ := newTestRunner(t, p, behavior)

	reg := tools.NewRegistry()
	if err := reg.Register(&fixedTool{name: "noop", output: "ok"}); err != nil {
		t.Fatal(err)
	}

	result, err := r.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "loop"}},
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Incomplete {
		t.Error("exhausted loop not marked incomplete")
	}
	if !strings.Contains(result.Content, "NOT a completed result") {
		t.Errorf("incomplete setup phrase not annotated: %q", result.Content)
	}
	if result.Steps != 3 {
		t.Errorf("steps = %d", result.Steps)
	}
}

func TestRunnerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scriptedProvider{}
	r, _ := newTestRunner(t, p, DefaultModelBehavior())
	if _, err := r.Run(ctx, RunRequest{Messages: []providers.Message{{Role: "user", Content: "x"}}}); err == nil {
		t.Error("cancelled run returned no error")
	}
	if len(p.requests) != 0 {
		t.Error("cancelled run still called the provider")
	}
}

func TestRunnerLLMFailureTerminalMessage(t *testing.T) {
	p := &scriptedProvider{err: &providers.HTTPError{Status: 400, Body: "bad request"}}
	r, _ := newTestRunner(t, p, DefaultModelBehavior())

	result, err := r.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "x"}},
	})
	if err != nil {
		t.Fatalf("llm failure should surface as terminal message, got error %v", err)
	}
	if !strings.Contains(result.Content, "could not finish") {
		t.Errorf("terminal message = %q", result.Content)
	}
}

func TestLooksIncomplete(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"All done. The answer is 42.", false},
		{"Here is the plan:", true},
		{"Step one finished.\nNow let me check the disk usage", true},
		{"I'll now restart the service", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksIncomplete(tt.text); got != tt.want {
			t.Errorf("looksIncomplete(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
