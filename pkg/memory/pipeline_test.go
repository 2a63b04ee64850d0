package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreUpsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, MemoryEntry{
		AgentID:   "a1",
		Content:   "likes tea",
		Embedding: []float32{1, 0, 0},
		Metadata:  Metadata{Source: SourceUser, Importance: 0.5, Tags: []string{"preference"}},
	})
	require.NoError(t, err)

	list, err := s.List(ctx, Filter{}.WithAgent("a1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "likes tea", list[0].Content)
	assert.Equal(t, id, list[0].ID)

	// Upsert on conflict overwrites in place.
	_, err = s.Store(ctx, MemoryEntry{
		ID:        id,
		AgentID:   "a1",
		Content:   "likes coffee",
		Embedding: []float32{1, 0, 0},
		Metadata:  Metadata{Source: SourceUser, Importance: 0.9},
	})
	require.NoError(t, err)

	list, err = s.List(ctx, Filter{}.WithAgent("a1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "likes coffee", list[0].Content)
}

func TestRerankRecencyBreaksTies(t *testing.T) {
	now := time.Now().UTC()
	older := rerank(0.8, 0.5, now.Add(-30*24*time.Hour), now)
	newer := rerank(0.8, 0.5, now.Add(-1*time.Hour), now)
	assert.Greater(t, newer, older)
}

func TestFormatContextEmpty(t *testing.T) {
	assert.Equal(t, "## Relevant Memories\n\nNo relevant memories found.", FormatContext(nil))
}

func TestQueryFiltersByMinScoreAndTopK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Store(ctx, MemoryEntry{
			AgentID:   "a1",
			Content:   "fact",
			Embedding: []float32{1, 0, 0},
			Metadata:  Metadata{Source: SourceAgent, Importance: 0.1},
		})
		require.NoError(t, err)
	}

	min := 0.0
	matches, err := Query(ctx, s, fakeEmbedder{vec: []float32{1, 0, 0}}, "q", Options{
		TopK:     2,
		Filter:   Filter{}.WithAgent("a1"),
		MinScore: &min,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Final, matches[i].Final)
	}
}
