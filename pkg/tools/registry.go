package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/providers"
)

// Tool is the contract every built-in and skill-provided tool implements.
// Parameters returns a JSON-schema-shaped map describing the tool's
// arguments, used both for provider tool definitions and for validating
// incoming calls.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ContextualTool is implemented by tools that need to know which chat
// they're currently responding in (e.g. to publish follow-up messages on
// the correct channel/chatID) before Execute runs.
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// AsyncCallback is invoked when an AsyncTool's background work completes,
// after Execute has already returned an Async result to the caller.
type AsyncCallback func(ctx context.Context, result *ToolResult)

// AsyncTool is implemented by tools whose Execute call kicks off background
// work and returns immediately with an Async result; the real outcome is
// delivered later via the callback passed to ExecuteWithContext.
type AsyncTool interface {
	Tool
	ExecuteAsync(ctx context.Context, args map[string]any, callback AsyncCallback) *ToolResult
}

// ToolRegistry is a name-keyed collection of tools, safe for concurrent
// registration and lookup. It is the single place the agent runner turns
// to for tool definitions and execution.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register installs a tool, keyed by its own Name(). Registering a tool
// under a name that already exists replaces the previous one.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ToProviderDefs renders the registry into the wire shape every LLM
// provider backend expects for tool-use.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// ExecuteWithContext runs a named tool against raw (possibly malformed)
// JSON arguments. Unknown tools, bad argument JSON, and panics inside the
// tool body are all converted into an error ToolResult rather than
// propagated, so one misbehaving tool call never aborts the agent turn.
func (r *ToolRegistry) ExecuteWithContext(
	ctx context.Context,
	name string,
	rawArgs json.RawMessage,
	channel, chatID string,
	callback AsyncCallback,
) (result *ToolResult) {
	return r.ExecuteWithToolContext(ctx, name, rawArgs, channel, chatID, ToolContext{}, callback)
}

// ExecuteWithToolContext is ExecuteWithContext plus the structured
// ToolContext (agent id, session key, workspace path, metadata) delivered
// to any tool implementing AgentAwareTool before Execute runs.
func (r *ToolRegistry) ExecuteWithToolContext(
	ctx context.Context,
	name string,
	rawArgs json.RawMessage,
	channel, chatID string,
	toolCtx ToolContext,
	callback AsyncCallback,
) (result *ToolResult) {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if ct, ok := tool.(ContextualTool); ok {
		ct.SetContext(channel, chatID)
	}
	if at, ok := tool.(AgentAwareTool); ok {
		at.SetToolContext(toolCtx)
	}

	var args map[string]any
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for tool %s: %v", name, err))
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tools", "tool execution panicked", map[string]any{
				"tool":  name,
				"panic": fmt.Sprintf("%v", rec),
			})
			result = ErrorResult(fmt.Sprintf("tool %s panicked: %v", name, rec))
		}
	}()

	if at, ok := tool.(AsyncTool); ok && callback != nil {
		return at.ExecuteAsync(ctx, args, callback)
	}
	return tool.Execute(ctx, args)
}
