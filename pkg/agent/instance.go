package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/memory"
	"github.com/aisopod/aisopod/pkg/providers"
	"github.com/aisopod/aisopod/pkg/routing"
	sbox "github.com/aisopod/aisopod/pkg/sandbox"
	"github.com/aisopod/aisopod/pkg/session"
	"github.com/aisopod/aisopod/pkg/tools"
)

// AgentInstance represents a fully configured agent with its own workspace,
// session manager, context builder, and tool registry.
type AgentInstance struct {
	ID             string
	Name           string
	Model          string
	Fallbacks      []string
	Workspace      string
	MaxIterations  int
	MaxTokens      int
	Temperature    float64
	ContextWindow  int
	Provider       providers.LLMProvider
	Sessions       *session.SessionManager
	ContextBuilder *ContextBuilder
	Tools          *tools.ToolRegistry
	Subagents      *config.SubagentsConfig
	SkillsFilter   []string
	Candidates     []providers.FallbackCandidate
	Memory         *memory.Store
	Embedder       memory.Embedder
	MemoryOpts     config.MemoryConfig
}

// NewAgentInstance creates an agent instance from config.
func NewAgentInstance(
	agentCfg *config.AgentConfig,
	defaults *config.AgentDefaults,
	cfg *config.Config,
	provider providers.LLMProvider,
) *AgentInstance {
	workspace := resolveAgentWorkspace(agentCfg, defaults)
	os.MkdirAll(workspace, 0o755)

	model := resolveAgentModel(agentCfg, defaults)
	fallbacks := resolveAgentFallbacks(agentCfg, defaults)

	restrict := defaults.RestrictToWorkspace
	toolsRegistry := tools.NewToolRegistry()
	toolsRegistry.Register(tools.NewReadFileTool(workspace, restrict))
	toolsRegistry.Register(tools.NewWriteFileTool(workspace, restrict))
	toolsRegistry.Register(tools.NewListDirTool(workspace, restrict))
	toolsRegistry.Register(tools.NewEditFileTool(workspace, restrict))
	toolsRegistry.Register(tools.NewAppendFileTool(workspace, restrict))
	registerShellTool(toolsRegistry, cfg, workspace, restrict)

	sessionsDir := filepath.Join(workspace, "sessions")
	sessionsManager := session.NewSessionManager(sessionsDir)

	contextBuilder := NewContextBuilder(workspace)
	contextBuilder.SetToolsRegistry(toolsRegistry)

	agentID := routing.DefaultAgentID
	agentName := ""
	var subagents *config.SubagentsConfig
	var skillsFilter []string

	if agentCfg != nil {
		agentID = routing.NormalizeAgentID(agentCfg.ID)
		agentName = agentCfg.Name
		subagents = agentCfg.Subagents
		skillsFilter = agentCfg.Skills
	}

	maxIter := defaults.MaxToolIterations
	if maxIter == 0 {
		maxIter = 20
	}

	maxTokens := defaults.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	temperature := 0.7
	if defaults.Temperature != nil {
		temperature = *defaults.Temperature
	}

	// Resolve fallback candidates
	modelCfg := providers.ModelConfig{
		Primary:   model,
		Fallbacks: fallbacks,
	}
	resolveFromModelList := func(raw string) (string, bool) {
		ensureProtocol := func(model string) string {
			model = strings.TrimSpace(model)
			if model == "" {
				return ""
			}
			if strings.Contains(model, "/") {
				return model
			}
			return "openai/" + model
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", false
		}

		if cfg != nil {
			if mc, err := cfg.GetModelConfig(raw); err == nil && mc != nil && strings.TrimSpace(mc.Model) != "" {
				return ensureProtocol(mc.Model), true
			}

			for i := range cfg.ModelList {
				fullModel := strings.TrimSpace(cfg.ModelList[i].Model)
				if fullModel == "" {
					continue
				}
				if fullModel == raw {
					return ensureProtocol(fullModel), true
				}
				_, modelID := providers.ExtractProtocol(fullModel)
				if modelID == raw {
					return ensureProtocol(fullModel), true
				}
			}
		}

		return "", false
	}

	candidates := providers.ResolveCandidatesWithLookup(modelCfg, defaults.Provider, resolveFromModelList)

	contextBuilder.SetSkillsFilter(skillsFilter)

	memStore, embedder := openAgentMemory(defaults.Memory, workspace, agentID, contextBuilder)
	if memStore != nil {
		toolsRegistry.Register(tools.NewMemorySearchTool(memStore, embedder, agentID))
		toolsRegistry.Register(tools.NewRememberTool(memStore, embedder, agentID))
	}

	return &AgentInstance{
		ID:             agentID,
		Name:           agentName,
		Model:          model,
		Fallbacks:      fallbacks,
		Workspace:      workspace,
		MaxIterations:  maxIter,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ContextWindow:  maxTokens,
		Provider:       provider,
		Sessions:       sessionsManager,
		ContextBuilder: contextBuilder,
		Tools:          toolsRegistry,
		Subagents:      subagents,
		SkillsFilter:   skillsFilter,
		Candidates:     candidates,
		Memory:         memStore,
		Embedder:       embedder,
		MemoryOpts:     defaults.Memory,
	}
}

// openAgentMemory opens the agent's vector memory store and wires the
// retrieval hook into the context builder. Memory failures disable the
// feature for this agent rather than failing construction.
func openAgentMemory(
	memCfg config.MemoryConfig,
	workspace, agentID string,
	contextBuilder *ContextBuilder,
) (*memory.Store, memory.Embedder) {
	if !memCfg.Enabled {
		return nil, nil
	}

	var embedder memory.Embedder
	dim := memCfg.Dimension
	if memCfg.EmbeddingBaseURL != "" {
		if dim == 0 {
			dim = 1536
		}
		embedder = memory.NewHTTPEmbedder(memCfg.EmbeddingBaseURL, memCfg.EmbeddingAPIKey, memCfg.EmbeddingModel, dim)
	} else {
		local := memory.NewLocalEmbedder(dim)
		dim = local.Dim()
		embedder = local
	}

	memStore, err := memory.Open(filepath.Join(workspace, "memory.db"), dim)
	if err != nil {
		logger.WarnCF("agent", "vector memory unavailable", map[string]any{
			"agent_id": agentID,
			"error":    err.Error(),
		})
		return nil, nil
	}

	topK := memCfg.TopK
	if topK == 0 {
		topK = 5
	}
	var minScore *float64
	if memCfg.MinScore > 0 {
		score := memCfg.MinScore
		minScore = &score
	}

	contextBuilder.SetMemoryRetriever(func(query string) string {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		formatted, err := memory.QueryAndFormat(ctx, memStore, embedder, query, memory.Options{
			TopK:     topK,
			Filter:   memory.Filter{}.WithAgent(agentID),
			MinScore: minScore,
		})
		if err != nil {
			logger.WarnCF("agent", "memory query failed", map[string]any{
				"agent_id": agentID,
				"error":    err.Error(),
			})
			return ""
		}
		return formatted
	})

	return memStore, embedder
}

// registerShellTool registers the bash tool, backed by the containerised
// sandbox executor when sandboxing is enabled and reachable, and falling
// back to the unrestricted/workspace-restricted host ExecTool otherwise.
func registerShellTool(registry *tools.ToolRegistry, cfg *config.Config, workspace string, restrict bool) {
	if cfg == nil || !cfg.Sandbox.Enabled {
		registry.Register(tools.NewExecToolWithConfig(workspace, restrict, cfg))
		return
	}

	sandboxCfg := sbox.Config{
		Enabled:         true,
		Image:           cfg.Sandbox.Image,
		WorkspaceAccess: sbox.WorkspaceAccess(cfg.Sandbox.WorkspaceAccess),
		NetworkAccess:   cfg.Sandbox.NetworkAccess,
		MemoryLimitMB:   cfg.Sandbox.MemoryLimitMB,
		CPULimit:        cfg.Sandbox.CPULimit,
		User:            cfg.Sandbox.User,
		Timeout:         time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
		Runtime:         sbox.Runtime(cfg.Sandbox.Runtime),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	executor, err := sbox.NewExecutor(ctx, sandboxCfg, workspace)
	if err != nil {
		logger.WarnCF("agent", "sandbox unavailable, falling back to host exec tool", map[string]any{
			"error": err.Error(),
		})
		registry.Register(tools.NewExecToolWithConfig(workspace, restrict, cfg))
		return
	}
	registry.Register(tools.NewSandboxTool(executor))
}

// resolveAgentWorkspace determines the workspace directory for an agent.
func resolveAgentWorkspace(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) string {
	if agentCfg != nil && strings.TrimSpace(agentCfg.Workspace) != "" {
		return expandHome(strings.TrimSpace(agentCfg.Workspace))
	}
	if agentCfg == nil || agentCfg.Default || agentCfg.ID == "" || routing.NormalizeAgentID(agentCfg.ID) == "main" {
		return expandHome(defaults.Workspace)
	}
	home, _ := os.UserHomeDir()
	id := routing.NormalizeAgentID(agentCfg.ID)
	return filepath.Join(home, ".picoclaw", "workspace-"+id)
}

// resolveAgentModel resolves the primary model for an agent.
func resolveAgentModel(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) string {
	if agentCfg != nil && agentCfg.Model != nil && strings.TrimSpace(agentCfg.Model.Primary) != "" {
		return strings.TrimSpace(agentCfg.Model.Primary)
	}
	return defaults.GetModelName()
}

// resolveAgentFallbacks resolves the fallback models for an agent.
func resolveAgentFallbacks(agentCfg *config.AgentConfig, defaults *config.AgentDefaults) []string {
	if agentCfg != nil && agentCfg.Model != nil && agentCfg.Model.Fallbacks != nil {
		return agentCfg.Model.Fallbacks
	}
	return defaults.ModelFallbacks
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
