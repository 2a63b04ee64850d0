// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package usage tracks cumulative token and request counters per session
// and per agent.
package usage

import "sync"

// Report is one cumulative usage counter.
type Report struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	RequestCount     int
}

// Tracker holds two independent maps — session totals and agent totals —
// with concurrent-map semantics (a single mutex is sufficient at this
// scale; there is no high-contention hot path here).
//
// The two maps are intentionally denormalised: nothing enforces that a
// session's sum over its lifetime equals its agent's total. Reconciling
// them would require either a second index (session -> agent) or an
// atomic two-map transaction, and the runtime has no caller that needs
// the invariant, so it's left unenforced.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Report
	agents   map[string]*Report
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		sessions: make(map[string]*Report),
		agents:   make(map[string]*Report),
	}
}

// RecordRequest atomically adds one request's tokens to both the session
// and agent totals, and increments both request counts by one. The agent
// loop calls it once per turn, with the tokens summed over every provider
// call in that turn.
func (t *Tracker) RecordRequest(sessionKey, agentID string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.upsert(t.sessions, sessionKey, promptTokens, completionTokens)
	t.upsert(t.agents, agentID, promptTokens, completionTokens)
}

func (t *Tracker) upsert(m map[string]*Report, key string, promptTokens, completionTokens int) {
	r, ok := m[key]
	if !ok {
		r = &Report{}
		m[key] = r
	}
	r.PromptTokens += promptTokens
	r.CompletionTokens += completionTokens
	r.TotalTokens += promptTokens + completionTokens
	r.RequestCount++
}

// Session returns a copy of the usage report for a session key.
func (t *Tracker) Session(sessionKey string) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.sessions[sessionKey]; ok {
		return *r
	}
	return Report{}
}

// Agent returns a copy of the usage report for an agent id.
func (t *Tracker) Agent(agentID string) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.agents[agentID]; ok {
		return *r
	}
	return Report{}
}

// ResetSession clears only the session entry, leaving the agent total
// untouched.
func (t *Tracker) ResetSession(sessionKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionKey)
}
