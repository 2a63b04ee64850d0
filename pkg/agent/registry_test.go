package agent

import (
	"os"
	"testing"

	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/routing"
)

func newRegistryTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "agent-registry-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := &config.Config{
		Agents: config.AgentsConfig{
			Defaults: config.AgentDefaults{
				Workspace:         tmpDir,
				Model:             "test-model",
				MaxTokens:         1234,
				MaxToolIterations: 5,
			},
			List: []config.AgentConfig{
				{ID: "main", Default: true},
				{ID: "sales"},
			},
		},
		Session: config.SessionConfig{DMScope: "per-channel-peer"},
		Bindings: []config.AgentBinding{
			{
				AgentID: "sales",
				Match:   config.BindingMatch{Channel: "telegram", Peer: &config.PeerMatch{Kind: "direct", ID: "user123"}},
			},
			{
				AgentID: "sales",
				Match:   config.BindingMatch{Channel: "discord"},
			},
		},
	}
	return cfg, tmpDir
}

func TestNewAgentRegistry_BuildsConfiguredAgentsAndDefault(t *testing.T) {
	cfg, _ := newRegistryTestConfig(t)
	reg := NewAgentRegistry(cfg, &mockProvider{})

	ids := reg.ListAgentIDs()
	if len(ids) != 2 {
		t.Fatalf("ListAgentIDs() = %v, want 2 agents", ids)
	}

	def := reg.GetDefaultAgent()
	if def == nil || def.ID != "main" {
		t.Fatalf("GetDefaultAgent() = %+v, want main", def)
	}

	sales, ok := reg.GetAgent("sales")
	if !ok || sales.ID != "sales" {
		t.Fatalf("GetAgent(sales) = %+v, %v", sales, ok)
	}
}

func TestAgentRegistry_ResolveRoute_ExactPeerBindingWinsOverChannelBinding(t *testing.T) {
	cfg, _ := newRegistryTestConfig(t)
	reg := NewAgentRegistry(cfg, &mockProvider{})

	route := reg.ResolveRoute(routing.RouteInput{
		Channel: "telegram",
		Peer:    &routing.RoutePeer{Kind: "direct", ID: "user123"},
	})

	if route.AgentID != "sales" {
		t.Fatalf("AgentID = %q, want sales", route.AgentID)
	}
	if route.MatchedBy != "binding" {
		t.Fatalf("MatchedBy = %q, want binding", route.MatchedBy)
	}
}

func TestAgentRegistry_ResolveRoute_NoMatchFallsBackToDefault(t *testing.T) {
	cfg, _ := newRegistryTestConfig(t)
	reg := NewAgentRegistry(cfg, &mockProvider{})

	route := reg.ResolveRoute(routing.RouteInput{
		Channel: "whatsapp",
		Peer:    &routing.RoutePeer{Kind: "direct", ID: "someone"},
	})

	if route.AgentID != "main" {
		t.Fatalf("AgentID = %q, want main", route.AgentID)
	}
	if route.MatchedBy != "default" {
		t.Fatalf("MatchedBy = %q, want default", route.MatchedBy)
	}
}

func TestAgentRegistry_CanSpawnSubagent_AllowlistEnforced(t *testing.T) {
	cfg, _ := newRegistryTestConfig(t)
	cfg.Agents.List = append(cfg.Agents.List, config.AgentConfig{ID: "support"})
	cfg.Agents.List[0].Subagents = &config.SubagentsConfig{AllowAgents: []string{"sales"}}
	reg := NewAgentRegistry(cfg, &mockProvider{})

	if !reg.CanSpawnSubagent("main", "sales") {
		t.Fatal("expected main to spawn sales")
	}
	if reg.CanSpawnSubagent("main", "support") {
		t.Fatal("expected spawning a configured agent outside the allowlist to be rejected")
	}
	if reg.CanSpawnSubagent("main", "unknown") {
		t.Fatal("expected spawning unknown agent to be rejected")
	}
}

func TestAgentRegistry_CanSpawnSubagent_EmptyAllowlistPermitsAny(t *testing.T) {
	cfg, _ := newRegistryTestConfig(t)
	reg := NewAgentRegistry(cfg, &mockProvider{})

	if !reg.CanSpawnSubagent("sales", "main") {
		t.Fatal("expected empty allowlist to permit spawning any configured agent")
	}
}
