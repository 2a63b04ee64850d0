package routing

import "strings"

// DefaultAgentID is the agent ID used when no agent configuration is present.
const DefaultAgentID = "main"

// DefaultMainKey is the session key segment used for the single-session DM scope.
const DefaultMainKey = "main"

// NormalizeAgentID lowercases an agent ID and collapses whitespace runs into
// single hyphens so IDs are safe to embed in session keys.
func NormalizeAgentID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultAgentID
	}
	fields := strings.Fields(id)
	return strings.ToLower(strings.Join(fields, "-"))
}

// NormalizeAccountID lowercases an account ID, returning "default" when empty
// so per-account session keys stay stable across unauthenticated channels.
func NormalizeAccountID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "default"
	}
	return strings.ToLower(id)
}

// RouteInput carries everything needed to resolve an inbound message to an
// agent and a session key.
type RouteInput struct {
	Channel    string
	AccountID  string
	Peer       *RoutePeer
	ParentPeer *RoutePeer
	GuildID    string
	TeamID     string
}

// RouteResult is the outcome of resolving a RouteInput: which agent should
// handle the message, under which session key, and what matched.
type RouteResult struct {
	AgentID    string
	SessionKey string
	MatchedBy  string
}
