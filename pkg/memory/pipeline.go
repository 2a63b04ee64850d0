// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Re-ranking weights. Hard-coded per the runtime's memory scoring
// contract; tests pin these values.
const (
	weightSimilarity = 0.7
	weightImportance = 0.2
	weightRecency    = 0.1
	recencyHalfLife  = 7.0 // days
)

// Embedder turns free text into a fixed-dimension vector. Concrete
// backends (a provider's embeddings endpoint, a local model) implement
// this; the pipeline only ever sees the interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures one Query call.
type Options struct {
	TopK     int
	Filter   Filter
	MinScore *float64
}

// MemoryMatch is one re-ranked query result.
type MemoryMatch struct {
	Entry      MemoryEntry
	Similarity float64
	Final      float64
}

// Query runs the full pipeline: embed → cosine search → filter → re-rank
// → threshold → sort → truncate.
func Query(ctx context.Context, store *Store, embedder Embedder, queryText string, opts Options) ([]MemoryMatch, error) {
	q, err := embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := store.searchBySimilarity(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	now := time.Now().UTC()
	matches := make([]MemoryMatch, 0, len(candidates))
	for _, c := range candidates {
		if !matchesFilter(c.entry, opts.Filter) {
			continue
		}
		final := rerank(c.score, c.entry.Metadata.Importance, c.entry.CreatedAt, now)
		matches = append(matches, MemoryMatch{Entry: c.entry, Similarity: c.score, Final: final})
	}

	if opts.MinScore != nil {
		kept := matches[:0]
		for _, m := range matches {
			if m.Final >= *opts.MinScore {
				kept = append(kept, m)
			}
		}
		matches = kept
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Final > matches[j].Final })

	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// rerank computes final = 0.7*similarity + 0.2*importance + 0.1*recency,
// where recency = 2^(-days_old/7) and days_old is signed-but-floored-at-
// zero days since createdAt.
func rerank(similarity, importance float64, createdAt, now time.Time) float64 {
	daysOld := now.Sub(createdAt).Hours() / 24
	if daysOld < 0 {
		daysOld = 0
	}
	recency := math.Pow(2, -daysOld/recencyHalfLife)
	return weightSimilarity*similarity + weightImportance*importance + weightRecency*recency
}

// FormatContext renders matches as the fixed-shape Markdown section
// injected into the system prompt's memory context.
func FormatContext(matches []MemoryMatch) string {
	var b strings.Builder
	b.WriteString("## Relevant Memories\n\n")
	if len(matches) == 0 {
		b.WriteString("No relevant memories found.")
		return b.String()
	}
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [score: %.2f] %s", m.Final, m.Entry.Content)
	}
	return b.String()
}

// QueryAndFormat is the single call the agent runner makes before each
// turn: embed+search+rerank the last user message, then render it as a
// ready-to-inject Markdown section.
func QueryAndFormat(ctx context.Context, store *Store, embedder Embedder, queryText string, opts Options) (string, error) {
	matches, err := Query(ctx, store, embedder, queryText, opts)
	if err != nil {
		return "", err
	}
	return FormatContext(matches), nil
}
