package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetOrCreate_ConcurrentCallsConvergeOnSameSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := Identity{
		SessionKey: "agent:main:telegram:direct:12345",
		AgentID:    "main",
		Channel:    "telegram",
		PeerKind:   "direct",
		PeerID:     "12345",
	}

	const n = 20
	ids := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			sess, err := store.GetOrCreate(ctx, id)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}

	first := ids[0]
	for i, got := range ids {
		assert.Equal(t, first, got, "goroutine %d got a different session id", i)
	}

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count))
	assert.Equal(t, 1, count, "concurrent get_or_create must not create more than one row")
}

func TestGetOrCreate_DistinctIdentitiesGetDistinctSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, Identity{SessionKey: "agent:main:telegram:direct:1", AgentID: "main", Channel: "telegram", PeerKind: "direct", PeerID: "1"})
	require.NoError(t, err)
	b, err := store.GetOrCreate(ctx, Identity{SessionKey: "agent:main:telegram:direct:2", AgentID: "main", Channel: "telegram", PeerKind: "direct", PeerID: "2"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestAppendAndTranscript_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, Identity{SessionKey: "agent:main:telegram:direct:1", AgentID: "main", Channel: "telegram", PeerKind: "direct", PeerID: "1"})
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, sess.ID, StoredMessage{Role: "user", Content: "hello"}))
	require.NoError(t, store.Append(ctx, sess.ID, StoredMessage{Role: "assistant", Content: "hi there"}))

	transcript, err := store.Transcript(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "user", transcript[0].Role)
	assert.Equal(t, "hello", transcript[0].Content)
	assert.Equal(t, "assistant", transcript[1].Role)
	assert.Equal(t, "hi there", transcript[1].Content)

	updated, err := store.GetBySessionKey(ctx, sess.SessionKey)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, 2, updated.MessageCount)
}

func TestTranscript_LimitReturnsMostRecentInChronologicalOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, Identity{SessionKey: "agent:main:telegram:direct:1", AgentID: "main", Channel: "telegram", PeerKind: "direct", PeerID: "1"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, sess.ID, StoredMessage{Role: "user", Content: string(rune('a' + i))}))
	}

	transcript, err := store.Transcript(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "d", transcript[0].Content)
	assert.Equal(t, "e", transcript[1].Content)
}

func TestDeriveIdentity(t *testing.T) {
	id := DeriveIdentity("agent:main:telegram:direct:12345")
	assert.Equal(t, "main", id.AgentID)
	assert.Equal(t, "telegram", id.Channel)
	assert.Equal(t, "direct", id.PeerKind)
	assert.Equal(t, "12345", id.PeerID)
}
