// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package memory implements the vector-memory store and RAG query
// pipeline: entries are embedded facts (content + embedding + metadata)
// scoped by agent, persisted in SQLite with the embedding stored as a
// blob and cosine similarity computed at query time (the pack carries no
// dedicated vector-DB client, and SQLite is already the project's chosen
// embedded store).
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

const sqliteDriver = "sqlite"

// Source classifies where a memory entry came from.
type Source string

const (
	SourceAgent   Source = "agent"
	SourceDerived Source = "derived"
	SourceUser    Source = "user"
)

// Metadata carries the non-vector attributes of a MemoryEntry.
type Metadata struct {
	Source     Source
	Importance float64
	Tags       []string
}

// MemoryEntry is one retrievable fact.
type MemoryEntry struct {
	ID        string
	AgentID   string
	Content   string
	Embedding []float32
	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows List/query candidates.
type Filter struct {
	AgentID        string
	Tags           []string // entry must contain at least one
	ImportanceMin  *float64
	hasAgentFilter bool
}

// WithAgent marks the filter as agent-scoped, distinguishing "no agent
// filter" from "agent filter on the empty string" per the store
// contract's "cross-agent reads require an explicit absent filter" rule.
func (f Filter) WithAgent(agentID string) Filter {
	f.AgentID = agentID
	f.hasAgentFilter = true
	return f
}

// Store is the SQLite-backed vector memory repository.
type Store struct {
	db  *sql.DB
	dim int
}

// Open opens (creating if absent) a SQLite-backed memory store at path.
// dim is the fixed embedding dimension for this store; inserts with a
// mismatched dimension are rejected.
func Open(path string, dim int) (*Store, error) {
	connStr := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open(sqliteDriver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		source TEXT NOT NULL,
		importance REAL NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create memories table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id)`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dim: dim}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Store upserts entry (insert, or overwrite on id conflict). A caller-
// supplied empty ID is replaced with a fresh UUID v4. Embeddings must be
// non-zero (L2 norm > 0) and match the store's fixed dimension.
func (s *Store) Store(ctx context.Context, entry MemoryEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if len(entry.Embedding) != s.dim {
		return "", fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(entry.Embedding), s.dim)
	}
	if l2Norm(entry.Embedding) == 0 {
		return "", fmt.Errorf("embedding must be L2-nonzero")
	}

	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, agent_id, content, embedding, source, importance, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			content = excluded.content,
			embedding = excluded.embedding,
			source = excluded.source,
			importance = excluded.importance,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		entry.ID, entry.AgentID, entry.Content, encodeVector(entry.Embedding),
		string(entry.Metadata.Source), entry.Metadata.Importance, strings.Join(entry.Metadata.Tags, ","),
		createdAt, now)
	if err != nil {
		return "", fmt.Errorf("upsert memory: %w", err)
	}
	return entry.ID, nil
}

// Delete removes an entry by id. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// List returns every entry matching filter, unordered.
func (s *Store) List(ctx context.Context, filter Filter) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, content, embedding, source, importance, tags, created_at, updated_at FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if matchesFilter(entry, filter) {
			out = append(out, entry)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(rows rowScanner) (MemoryEntry, error) {
	var e MemoryEntry
	var embBlob []byte
	var source, tags string
	if err := rows.Scan(&e.ID, &e.AgentID, &e.Content, &embBlob, &source, &e.Metadata.Importance, &tags, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Metadata.Source = Source(source)
	if tags != "" {
		e.Metadata.Tags = strings.Split(tags, ",")
	}
	e.Embedding = decodeVector(embBlob)
	return e, nil
}

func matchesFilter(e MemoryEntry, f Filter) bool {
	if f.hasAgentFilter && e.AgentID != f.AgentID {
		return false
	}
	if f.ImportanceMin != nil && e.Metadata.Importance < *f.ImportanceMin {
		return false
	}
	if len(f.Tags) > 0 {
		match := false
		for _, want := range f.Tags {
			for _, have := range e.Metadata.Tags {
				if want == have {
					match = true
					break
				}
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// candidate is an entry paired with its raw cosine-similarity score
// against a query vector.
type candidate struct {
	entry MemoryEntry
	score float64
}

// searchBySimilarity scores every stored entry against q by cosine
// similarity. This is a full scan: acceptable at the scale a
// single-process embedded agent runtime operates at, and keeps the store
// free of a dedicated ANN index dependency the pack doesn't carry.
func (s *Store) searchBySimilarity(ctx context.Context, q []float32) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, content, embedding, source, importance, tags, created_at, updated_at FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{entry: e, score: cosineSimilarity(q, e.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
