package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rockbotlabs/rockbot/internal/memory"
)

type echoTool struct {
	name   string
	params map[string]any
	got    map[string]any
}

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) Description() string        { return "echoes" }
func (t *echoTool) Parameters() map[string]any { return t.params }
func (t *echoTool) Execute(ctx context.Context, args map[string]any) *Result {
	t.got = args
	return NewResult("ok")
}

func strictParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
			"label": map[string]any{"type": "string"},
		},
		"required":             []string{"label"},
		"additionalProperties": false,
	}
}

func TestRegistryExecuteValidatesArguments(t *testing.T) {
	reg := NewRegistry()
	tool := &echoTool{name: "echo", params: strictParams()}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := reg.Execute(context.Background(), "echo", map[string]any{"label": "x", "count": float64(2)})
	if res.IsError {
		t.Fatalf("valid args rejected: %s", res.ForLLM)
	}
	if tool.got["label"] != "x" {
		t.Errorf("args not passed through: %v", tool.got)
	}

	res = reg.Execute(context.Background(), "echo", map[string]any{"count": float64(2)})
	if !res.IsError || !strings.Contains(res.ForLLM, "invalid arguments") {
		t.Errorf("missing required field not rejected: %+v", res)
	}

	res = reg.Execute(context.Background(), "echo", map[string]any{"label": "x", "extra": true})
	if !res.IsError {
		t.Errorf("additional property not rejected: %+v", res)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("unknown tool result: %+v", res)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	first := &echoTool{name: "t", params: nil}
	second := &echoTool{name: "t", params: nil}
	if err := reg.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatal(err)
	}

	reg.Execute(context.Background(), "t", map[string]any{"k": "v"})
	if first.got != nil {
		t.Error("replaced tool still invoked")
	}
	if second.got == nil {
		t.Error("replacement tool not invoked")
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&echoTool{name: "a"}); err != nil {
		t.Fatal(err)
	}

	clone := reg.Clone()
	if err := reg.Register(&echoTool{name: "b"}); err != nil {
		t.Fatal(err)
	}
	reg.Unregister("a")

	// The clone is unaffected by later mutations of the parent.
	if clone.Get("a") == nil || clone.Get("b") != nil {
		t.Errorf("clone tools = %v", clone.Names())
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "b" {
		t.Errorf("parent tools = %v", got)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&echoTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Function.Name != want {
			t.Errorf("definition %d = %q, want %q", i, defs[i].Function.Name, want)
		}
		if defs[i].Type != "function" {
			t.Errorf("definition type = %q", defs[i].Type)
		}
	}
}

func TestWorkingMemoryToolsNamespaceConfinement(t *testing.T) {
	store := memory.NewWorkingStore(t.TempDir(), time.Hour, 50)
	set := NewWorkingMemorySetTool(store, time.Hour)
	del := NewWorkingMemoryDeleteTool(store)
	get := NewWorkingMemoryGetTool(store)

	ctx := WithNamespace(context.Background(), "subagent/abc123")

	res := set.Execute(ctx, map[string]any{"key": "session/s1/sneaky", "value": "x"})
	if !res.IsError {
		t.Error("write outside pinned namespace allowed")
	}
	res = set.Execute(ctx, map[string]any{"key": "subagent/abc123/notes", "value": "x"})
	if res.IsError {
		t.Fatalf("write inside namespace rejected: %s", res.ForLLM)
	}

	// Reads cross namespaces freely.
	if err := store.Set("session/s1/visible", "shared", time.Hour, "", nil); err != nil {
		t.Fatal(err)
	}
	res = get.Execute(ctx, map[string]any{"key": "session/s1/visible"})
	if res.IsError || res.ForLLM != "shared" {
		t.Errorf("cross-namespace read failed: %+v", res)
	}

	res = del.Execute(ctx, map[string]any{"key": "session/s1/visible"})
	if !res.IsError {
		t.Error("delete outside pinned namespace allowed")
	}
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	store := memory.NewLongTermStore(t.TempDir())
	reg := NewRegistry()
	for _, tool := range []Tool{
		NewMemorySaveTool(store),
		NewMemoryGetTool(store),
		NewMemoryDeleteTool(store),
		NewMemorySearchTool(store),
	} {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	ctx := context.Background()

	res := reg.Execute(ctx, "memory_save", map[string]any{
		"id":       "fact-1",
		"content":  "the deploy window is tuesday",
		"category": "ops",
	})
	if res.IsError {
		t.Fatalf("save: %s", res.ForLLM)
	}

	res = reg.Execute(ctx, "memory_search", map[string]any{"query": "deploy window"})
	if res.IsError || !strings.Contains(res.ForLLM, "tuesday") {
		t.Errorf("search: %+v", res)
	}

	res = reg.Execute(ctx, "memory_delete", map[string]any{"id": "fact-1"})
	if res.IsError {
		t.Fatalf("delete: %s", res.ForLLM)
	}
	res = reg.Execute(ctx, "memory_get", map[string]any{"id": "fact-1"})
	if !res.IsError {
		t.Error("get after delete should error")
	}
}
