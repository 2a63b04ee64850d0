// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package session

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/providers"
)

const dbFileName = "sessions.db"

// cached holds one session's working-set history/summary in memory between
// explicit Save() calls, mirroring the flat-file manager this type
// replaces: callers mutate the in-memory slice freely through
// GetHistory/SetHistory/AddMessage and only pay the SQLite round trip on
// Save.
type cached struct {
	id      int64
	history []providers.Message
	summary string
}

// SessionManager is the facade the agent runner talks to: a small
// in-memory working set per session key, backed by a Store for
// durability. Its method set matches the shape the runner already
// expects (GetHistory, GetSummary, AddMessage, AddFullMessage, Save,
// SetHistory, SetSummary, TruncateHistory).
type SessionManager struct {
	store *Store
	mu    sync.Mutex
	cache map[string]*cached
}

// NewSessionManager opens (creating if absent) a SQLite session store
// under dir/sessions.db. Failure to open is logged and the manager falls
// back to an in-memory-only mode so a single misbehaving disk doesn't
// take the whole agent down; Save becomes a no-op in that mode.
func NewSessionManager(dir string) *SessionManager {
	store, err := Open(filepath.Join(dir, dbFileName))
	if err != nil {
		logger.ErrorCF("session", "failed to open session store, falling back to in-memory only", map[string]any{
			"dir":   dir,
			"error": err.Error(),
		})
		store = nil
	}
	return &SessionManager{store: store, cache: make(map[string]*cached)}
}

func (m *SessionManager) entry(sessionKey string) *cached {
	if c, ok := m.cache[sessionKey]; ok {
		return c
	}
	c := &cached{}
	if m.store != nil {
		ctx := context.Background()
		sess, err := m.store.GetOrCreate(ctx, DeriveIdentity(sessionKey))
		if err != nil {
			logger.ErrorCF("session", "get_or_create failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
		} else {
			c.id = sess.ID
			if v, ok := sess.Metadata["summary"].(string); ok {
				c.summary = v
			}
			rows, err := m.store.Transcript(ctx, sess.ID, 0)
			if err != nil {
				logger.ErrorCF("session", "transcript load failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
			} else {
				c.history = storedToMessages(rows)
			}
		}
	}
	m.cache[sessionKey] = c
	return c
}

// GetHistory returns a copy of the in-memory transcript for sessionKey.
func (m *SessionManager) GetHistory(sessionKey string) []providers.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	out := make([]providers.Message, len(c.history))
	copy(out, c.history)
	return out
}

// GetSummary returns the rolling compaction summary for sessionKey, if any.
func (m *SessionManager) GetSummary(sessionKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(sessionKey).summary
}

// AddMessage appends a plain text message to the in-memory history.
func (m *SessionManager) AddMessage(sessionKey, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	c.history = append(c.history, providers.Message{Role: role, Content: content})
}

// AddFullMessage appends a fully-formed message (carrying tool calls or a
// tool_call_id) to the in-memory history.
func (m *SessionManager) AddFullMessage(sessionKey string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	c.history = append(c.history, msg)
}

// SetHistory replaces the in-memory history wholesale, used after context
// compaction rewrites the transcript.
func (m *SessionManager) SetHistory(sessionKey string, history []providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	c.history = history
}

// SetSummary replaces the rolling compaction summary.
func (m *SessionManager) SetSummary(sessionKey, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	c.summary = summary
}

// TruncateHistory keeps only the most recent keepLast messages in memory.
func (m *SessionManager) TruncateHistory(sessionKey string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(sessionKey)
	if keepLast < 0 {
		keepLast = 0
	}
	if len(c.history) > keepLast {
		c.history = append([]providers.Message(nil), c.history[len(c.history)-keepLast:]...)
	}
}

// Save flushes the in-memory working set for sessionKey to the store: the
// transcript is rewritten wholesale (delete + re-insert) since the
// in-memory slice, not the DB, is the source of truth between saves; the
// summary is persisted into the session's metadata blob.
func (m *SessionManager) Save(sessionKey string) {
	m.mu.Lock()
	c := m.entry(sessionKey)
	id := c.id
	history := append([]providers.Message(nil), c.history...)
	summary := c.summary
	m.mu.Unlock()

	if m.store == nil || id == 0 {
		return
	}

	ctx := context.Background()
	if err := m.store.ClearMessages(ctx, id); err != nil {
		logger.ErrorCF("session", "clear messages failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
		return
	}
	for _, msg := range history {
		if err := m.store.Append(ctx, id, messageToStored(msg)); err != nil {
			logger.ErrorCF("session", "append failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
			return
		}
	}
	if err := m.store.SetMetadata(ctx, id, map[string]any{"summary": summary}); err != nil {
		logger.ErrorCF("session", "set metadata failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
	}
}

// UpdateUsage adds delta tokens to the session's persisted cumulative
// token_usage counter.
func (m *SessionManager) UpdateUsage(sessionKey string, delta int) {
	m.mu.Lock()
	c := m.entry(sessionKey)
	id := c.id
	m.mu.Unlock()
	if m.store == nil || id == 0 {
		return
	}
	if err := m.store.UpdateUsage(context.Background(), id, delta); err != nil {
		logger.ErrorCF("session", "update usage failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
	}
}

// Archive marks a session archived without deleting its transcript.
func (m *SessionManager) Archive(sessionKey string) {
	m.mu.Lock()
	c := m.entry(sessionKey)
	id := c.id
	m.mu.Unlock()
	if m.store == nil || id == 0 {
		return
	}
	if err := m.store.SetStatus(context.Background(), id, StatusArchived); err != nil {
		logger.ErrorCF("session", "archive failed", map[string]any{"session_key": sessionKey, "error": err.Error()})
	}
}

// Close releases the underlying store handle.
func (m *SessionManager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

func storedToMessages(rows []StoredMessage) []providers.Message {
	out := make([]providers.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, providers.Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCalls:  r.ToolCalls,
			ToolCallID: r.ToolCallID,
		})
	}
	return out
}

func messageToStored(msg providers.Message) StoredMessage {
	return StoredMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	}
}
