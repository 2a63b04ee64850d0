// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package session persists per-peer conversation logs in a SQLite-backed
// store. Identity is the deterministic session key produced by
// pkg/routing (agent:channel:account:kind:peer or one of its collapsed
// DM-scope variants); the store itself never re-derives that key, it
// only stores and indexes it.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aisopod/aisopod/pkg/providers"
)

const sqliteDriver = "sqlite"

// Status values for Session.Status.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Session is the durable row identifying one (agent, peer) conversation.
type Session struct {
	ID           int64
	SessionKey   string
	AgentID      string
	Channel      string
	AccountID    string
	PeerKind     string
	PeerID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	TokenUsage   int
	Metadata     map[string]any
	Status       string
}

// StoredMessage is one persisted turn in a session's transcript.
type StoredMessage struct {
	ID         int64
	SessionID  int64
	Role       string
	Content    string
	ToolCalls  []providers.ToolCall
	ToolCallID string
	CreatedAt  time.Time
}

// Store is the low-level SQLite-backed session/message repository
// implementing the schema from the runtime's session-persistence
// contract: sessions keyed by a UNIQUE session_key, messages owned by
// their session with ON DELETE CASCADE.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path with foreign
// keys and WAL enabled, and applies any pending schema migrations.
func Open(path string) (*Store, error) {
	connStr := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open(sqliteDriver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations, applied in order. Idempotent on re-entry: each step is
// wrapped in a schema_version check so running it twice is a no-op.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		peer_kind TEXT NOT NULL DEFAULT '',
		peer_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		token_usage INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'active',
		UNIQUE(agent_id, channel, account_id, peer_kind, peer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_channel_account ON sessions(channel, account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_key ON sessions(session_key)`,
}

func (s *Store) migrate() error {
	var current int
	row := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	_ = row.Scan(&current) // table may not exist yet; current stays 0

	for i := current; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	if current == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, len(migrations)); err != nil {
			return err
		}
	} else if current < len(migrations) {
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, len(migrations)); err != nil {
			return err
		}
	}
	return nil
}

// Identity is the decomposed form of a routed session key, used to
// populate the UNIQUE index columns.
type Identity struct {
	SessionKey string
	AgentID    string
	Channel    string
	AccountID  string
	PeerKind   string
	PeerID     string
}

// GetOrCreate returns the session row for id, creating it atomically on
// the UNIQUE(agent_id, channel, account_id, peer_kind, peer_id) index if
// absent. Concurrent callers racing on the same identity converge on the
// same row: the INSERT OR IGNORE either wins or loses to another racer,
// and the following SELECT always finds the surviving row.
func (s *Store) GetOrCreate(ctx context.Context, id Identity) (*Session, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions
			(session_key, agent_id, channel, account_id, peer_kind, peer_id,
			 created_at, updated_at, message_count, token_usage, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '{}', 'active')`,
		id.SessionKey, id.AgentID, id.Channel, id.AccountID, id.PeerKind, id.PeerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("get_or_create insert: %w", err)
	}

	return s.getByIdentity(ctx, id)
}

func (s *Store) getByIdentity(ctx context.Context, id Identity) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_id, channel, account_id, peer_kind, peer_id,
		       created_at, updated_at, message_count, token_usage, metadata, status
		FROM sessions
		WHERE agent_id = ? AND channel = ? AND account_id = ? AND peer_kind = ? AND peer_id = ?`,
		id.AgentID, id.Channel, id.AccountID, id.PeerKind, id.PeerID)
	return scanSession(row)
}

// GetBySessionKey looks up a session by its opaque routed key. Unlike
// GetOrCreate this never creates a row.
func (s *Store) GetBySessionKey(ctx context.Context, sessionKey string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_id, channel, account_id, peer_kind, peer_id,
		       created_at, updated_at, message_count, token_usage, metadata, status
		FROM sessions WHERE session_key = ?`, sessionKey)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var metaRaw string
	if err := row.Scan(&sess.ID, &sess.SessionKey, &sess.AgentID, &sess.Channel, &sess.AccountID,
		&sess.PeerKind, &sess.PeerID, &sess.CreatedAt, &sess.UpdatedAt,
		&sess.MessageCount, &sess.TokenUsage, &metaRaw, &sess.Status); err != nil {
		return nil, err
	}
	sess.Metadata = map[string]any{}
	if metaRaw != "" {
		_ = json.Unmarshal([]byte(metaRaw), &sess.Metadata)
	}
	return &sess, nil
}

// Append persists one message under sessionID and bumps message_count /
// updated_at on the owning session.
func (s *Store) Append(ctx context.Context, sessionID int64, msg StoredMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool_calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		now, sessionID); err != nil {
		return fmt.Errorf("bump session: %w", err)
	}

	return tx.Commit()
}

// Transcript returns the persisted messages for sessionID in chronological
// order. limit <= 0 means unbounded; otherwise only the most recent limit
// messages are returned (still in chronological order).
func (s *Store) Transcript(ctx context.Context, sessionID int64, limit int) ([]StoredMessage, error) {
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
			FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
			FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var toolCallsRaw sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCallsRaw, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if toolCallsRaw.Valid && toolCallsRaw.String != "" {
			_ = json.Unmarshal([]byte(toolCallsRaw.String), &m.ToolCalls)
		}
		out = append(out, m)
	}
	if limit > 0 {
		// rows came back newest-first; restore chronological order.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, rows.Err()
}

// TruncateTo deletes all but the most recent keep messages for a session.
func (s *Store) TruncateTo(ctx context.Context, sessionID int64, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)`, sessionID, sessionID, keep)
	return err
}

// ClearMessages deletes every message owned by a session (used when the
// in-memory history is rewritten wholesale, e.g. after summarisation).
func (s *Store) ClearMessages(ctx context.Context, sessionID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

// UpdateUsage adds delta tokens to the session's cumulative token_usage.
func (s *Store) UpdateUsage(ctx context.Context, sessionID int64, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET token_usage = token_usage + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), sessionID)
	return err
}

// SetMetadata overwrites the session's metadata JSON blob, merging the
// given keys over any existing ones.
func (s *Store) SetMetadata(ctx context.Context, sessionID int64, patch map[string]any) error {
	sess, err := s.bySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	for k, v := range patch {
		sess.Metadata[k] = v
	}
	b, err := json.Marshal(sess.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE id = ?`, string(b), sessionID)
	return err
}

func (s *Store) bySessionID(ctx context.Context, sessionID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_id, channel, account_id, peer_kind, peer_id,
		       created_at, updated_at, message_count, token_usage, metadata, status
		FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// SetStatus archives/unarchives a session. Sessions are never deleted
// except through this explicit status change.
func (s *Store) SetStatus(ctx context.Context, sessionID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), sessionID)
	return err
}

// DeriveIdentity builds an Identity from a routed session key produced by
// pkg/routing. The key's agent segment is always present
// ("agent:<id>:..."); the remainder is stored verbatim as the channel
// column for indexing purposes since pkg/routing's own key shapes (main /
// per-peer / per-channel-peer / per-account-channel-peer) don't always
// carry all five spec-defined segments explicitly.
func DeriveIdentity(sessionKey string) Identity {
	parts := strings.SplitN(sessionKey, ":", 6)
	id := Identity{SessionKey: sessionKey, PeerKind: "direct"}
	if len(parts) >= 2 {
		id.AgentID = parts[1]
	}
	switch len(parts) {
	case 3:
		// agent:<id>:main
		id.Channel = parts[2]
	case 4:
		// agent:<id>:direct:<peer>
		id.Channel = "direct"
		id.PeerID = parts[3]
	case 5:
		// agent:<id>:<channel>:direct:<peer> or agent:<id>:<channel>:<kind>:<peer>
		id.Channel = parts[2]
		id.PeerKind = parts[3]
		id.PeerID = parts[4]
	case 6:
		// agent:<id>:<channel>:<account>:direct:<peer>
		id.Channel = parts[2]
		id.AccountID = parts[3]
		id.PeerKind = parts[4]
		id.PeerID = parts[5]
	default:
		id.Channel = sessionKey
	}
	return id
}
