package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rockbotlabs/rockbot/internal/providers"
)

// Tool is one callable capability exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

type registration struct {
	tool   Tool
	schema *jsonschema.Schema // nil when the tool declares no parameters
}

// Registry holds the live tool set. Copy-on-write: mutations replace the map
// under a lock, readers snapshot the current reference without one.
type Registry struct {
	mu    sync.Mutex
	tools map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// Register adds or replaces a tool. The parameter schema is compiled once
// here; arguments are validated against it on every Execute.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tools: tool has empty name")
	}

	var schema *jsonschema.Schema
	if params := tool.Parameters(); params != nil {
		compiled, err := compileSchema(params)
		if err != nil {
			return fmt.Errorf("tools: %s: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*registration, len(r.tools)+1)
	for k, v := range r.tools {
		next[k] = v
	}
	next[name] = &registration{tool: tool, schema: schema}
	r.tools = next
	return nil
}

// Unregister removes a tool by name. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	next := make(map[string]*registration, len(r.tools)-1)
	for k, v := range r.tools {
		if k != name {
			next[k] = v
		}
	}
	r.tools = next
}

// Get returns the registered tool, or nil.
func (r *Registry) Get(name string) Tool {
	reg, ok := r.snapshot()[name]
	if !ok {
		return nil
	}
	return reg.tool
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	snap := r.snapshot()
	out := make([]string, 0, len(snap))
	for name := range snap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Definitions renders the tool set for a chat request, sorted by name.
func (r *Registry) Definitions() []providers.ToolDefinition {
	snap := r.snapshot()
	out := make([]providers.ToolDefinition, 0, len(snap))
	for _, reg := range snap {
		out = append(out, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        reg.tool.Name(),
				Description: reg.tool.Description(),
				Parameters:  reg.tool.Parameters(),
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}

// Execute runs a tool by name. Unknown tools and schema violations come back
// as isError results so the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	reg, ok := r.snapshot()[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if args == nil {
		args = map[string]any{}
	}
	if reg.schema != nil {
		if err := reg.schema.Validate(normalizeForValidation(args)); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
		}
	}

	result := reg.tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	if result.Err != nil {
		slog.Warn("tool execution error", "tool", name, "error", result.Err)
	}
	return result
}

// Clone returns a registry with the same tools, for building restricted
// subagent tool sets without mutating the parent.
func (r *Registry) Clone() *Registry {
	snap := r.snapshot()
	next := make(map[string]*registration, len(snap))
	for k, v := range snap {
		next[k] = v
	}
	return &Registry{tools: next}
}

func (r *Registry) snapshot() map[string]*registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so the document contains only plain types the
	// compiler understands.
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// normalizeForValidation converts argument values to the plain JSON types the
// validator expects. Provider decoding already produces these, but tool-side
// callers may pass richer Go values.
func normalizeForValidation(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return args
	}
	return doc
}
