package agent

import (
	"strings"
	"sync"

	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/providers"
	"github.com/aisopod/aisopod/pkg/routing"
)

// AgentRegistry owns every configured AgentInstance and resolves inbound
// messages to the agent and session key that should handle them.
type AgentRegistry struct {
	mu         sync.RWMutex
	agents     map[string]*AgentInstance
	order      []string
	defaultID  string
	bindings   []config.AgentBinding
	dmScope    routing.DMScope
	identities map[string][]string
	subagents  map[string]*config.SubagentsConfig
}

// NewAgentRegistry builds one AgentInstance per agent configured in
// cfg.Agents.List. When the list is empty it builds a single implicit
// "main" agent from the defaults. When the list carries no entry marked
// Default, the first listed agent becomes the default.
func NewAgentRegistry(cfg *config.Config, provider providers.LLMProvider) *AgentRegistry {
	reg := &AgentRegistry{
		agents:     make(map[string]*AgentInstance),
		bindings:   cfg.Bindings,
		dmScope:    routing.DMScope(cfg.Session.DMScope),
		identities: cfg.Session.IdentityLinks,
		subagents:  make(map[string]*config.SubagentsConfig),
	}

	defaults := &cfg.Agents.Defaults

	if len(cfg.Agents.List) == 0 {
		main := NewAgentInstance(nil, defaults, cfg, provider)
		reg.agents[main.ID] = main
		reg.order = append(reg.order, main.ID)
		reg.defaultID = main.ID
		return reg
	}

	for i := range cfg.Agents.List {
		agentCfg := &cfg.Agents.List[i]
		instance := NewAgentInstance(agentCfg, defaults, cfg, provider)
		if _, exists := reg.agents[instance.ID]; exists {
			continue
		}
		reg.agents[instance.ID] = instance
		reg.order = append(reg.order, instance.ID)
		reg.subagents[instance.ID] = instance.Subagents

		if agentCfg.Default || reg.defaultID == "" {
			reg.defaultID = instance.ID
		}
	}

	if reg.defaultID == "" && len(reg.order) > 0 {
		reg.defaultID = reg.order[0]
	}

	return reg
}

// GetDefaultAgent returns the agent to use when no binding matches, or nil
// if the registry has no agents (should not happen in practice).
func (r *AgentRegistry) GetDefaultAgent() *AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[r.defaultID]
}

// GetAgent looks up an agent by its normalized ID.
func (r *AgentRegistry) GetAgent(id string) (*AgentInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[routing.NormalizeAgentID(id)]
	return agent, ok
}

// ListAgentIDs returns every configured agent ID in registration order.
func (r *AgentRegistry) ListAgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// CanSpawnSubagent reports whether fromAgentID is allowed to spawn
// toAgentID as a subagent, per that agent's subagents.allow_agents list.
// An unset or empty allowlist permits spawning any configured agent.
func (r *AgentRegistry) CanSpawnSubagent(fromAgentID, toAgentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	toID := routing.NormalizeAgentID(toAgentID)
	if _, ok := r.agents[toID]; !ok {
		return false
	}

	sub := r.subagents[routing.NormalizeAgentID(fromAgentID)]
	if sub == nil || len(sub.AllowAgents) == 0 {
		return true
	}
	for _, allowed := range sub.AllowAgents {
		if routing.NormalizeAgentID(allowed) == toID {
			return true
		}
	}
	return false
}

// ResolveRoute matches an inbound message against the configured bindings to
// determine which agent should handle it and under which session key. The
// binding that satisfies the most criteria wins (see matchScore); on a tie,
// the binding that comes first in configured order wins.
func (r *AgentRegistry) ResolveRoute(input routing.RouteInput) routing.RouteResult {
	r.mu.RLock()
	bindings := r.bindings
	dmScope := r.dmScope
	identities := r.identities
	defaultID := r.defaultID
	r.mu.RUnlock()

	agentID := defaultID
	matchedBy := "default"
	bestScore := -1

	for _, binding := range bindings {
		score, ok := matchScore(binding.Match, input)
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			agentID = routing.NormalizeAgentID(binding.AgentID)
			matchedBy = "binding"
		}
	}

	sessionKey := routing.BuildAgentPeerSessionKey(routing.SessionKeyParams{
		AgentID:       agentID,
		Channel:       input.Channel,
		AccountID:     input.AccountID,
		Peer:          input.Peer,
		DMScope:       dmScope,
		IdentityLinks: identities,
	})

	return routing.RouteResult{
		AgentID:    agentID,
		SessionKey: sessionKey,
		MatchedBy:  matchedBy,
	}
}

// matchScore reports whether a binding's match criteria are all satisfied by
// the route input, and a specificity score (count of non-empty criteria) used
// to rank competing bindings. Channel is always required when set.
func matchScore(match config.BindingMatch, input routing.RouteInput) (int, bool) {
	score := 0

	if c := strings.TrimSpace(match.Channel); c != "" {
		if !strings.EqualFold(c, input.Channel) {
			return 0, false
		}
		score++
	}

	if a := strings.TrimSpace(match.AccountID); a != "" {
		if !strings.EqualFold(a, input.AccountID) {
			return 0, false
		}
		score++
	}

	if match.Peer != nil && (match.Peer.Kind != "" || match.Peer.ID != "") {
		if input.Peer == nil {
			return 0, false
		}
		if match.Peer.Kind != "" && !strings.EqualFold(match.Peer.Kind, input.Peer.Kind) {
			return 0, false
		}
		if match.Peer.ID != "" && !strings.EqualFold(match.Peer.ID, input.Peer.ID) {
			return 0, false
		}
		score++
	}

	if g := strings.TrimSpace(match.GuildID); g != "" {
		if !strings.EqualFold(g, input.GuildID) {
			return 0, false
		}
		score++
	}

	if t := strings.TrimSpace(match.TeamID); t != "" {
		if !strings.EqualFold(t, input.TeamID) {
			return 0, false
		}
		score++
	}

	return score, true
}
