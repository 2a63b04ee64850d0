package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordRequestAccumulates(t *testing.T) {
	tr := New()
	tr.RecordRequest("sess:1", "agent:main", 10, 5)
	tr.RecordRequest("sess:1", "agent:main", 20, 5)

	sess := tr.Session("sess:1")
	assert.Equal(t, 30, sess.PromptTokens)
	assert.Equal(t, 10, sess.CompletionTokens)
	assert.Equal(t, 40, sess.TotalTokens)
	assert.Equal(t, 2, sess.RequestCount)

	agent := tr.Agent("agent:main")
	assert.Equal(t, 2, agent.RequestCount)
}

func TestResetSessionLeavesAgentIntact(t *testing.T) {
	tr := New()
	tr.RecordRequest("sess:1", "agent:main", 10, 5)
	tr.ResetSession("sess:1")

	assert.Equal(t, Report{}, tr.Session("sess:1"))
	assert.NotEqual(t, Report{}, tr.Agent("agent:main"))
}

func TestConcurrentRecordRequest(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordRequest("sess:shared", "agent:shared", 1, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Session("sess:shared").RequestCount)
}
