package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apex-run/apex/internal/message"
	"github.com/apex-run/apex/internal/topology"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intent-log.db")
	c, err := NewClient(&Config{Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSaveIntentLogEntryRoundTrips(t *testing.T) {
	c := newTestClient(t)
	err := c.SaveIntentLogEntry(context.Background(), &IntentLogEntry{
		Kind:     "commit",
		Topology: string(topology.Chain),
		Epoch:    3,
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, c.GetDB().QueryRow("SELECT COUNT(*) FROM intent_log WHERE kind = 'commit'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveDecisionRecordRoundTrips(t *testing.T) {
	c := newTestClient(t)
	err := c.SaveDecisionRecord(context.Background(), &DecisionRecordRow{
		Step:           1,
		TopologyBefore: string(topology.Star),
		Action:         "chain",
		Epsilon:        0.1,
	})
	require.NoError(t, err)

	var action string
	require.NoError(t, c.GetDB().QueryRow("SELECT action FROM decision_log WHERE step = 1").Scan(&action))
	assert.Equal(t, "chain", action)
}

func TestQueueWriteAsyncPersists(t *testing.T) {
	c := newTestClient(t)

	var wg sync.WaitGroup
	wg.Add(1)
	c.QueueWrite(WriteTypeIntentLog, &IntentLogEntry{Kind: "begin_prepare", Topology: string(topology.Flat)}, func(err error) {
		assert.NoError(t, err)
		wg.Done()
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async write did not complete in time")
	}

	var count int
	require.NoError(t, c.GetDB().QueryRow("SELECT COUNT(*) FROM intent_log WHERE kind = 'begin_prepare'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecentIntentLogEntriesScansNewestFirst(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.SaveIntentLogEntry(context.Background(), &IntentLogEntry{Kind: "begin_prepare", Topology: string(topology.Star)}))
	require.NoError(t, c.SaveIntentLogEntry(context.Background(), &IntentLogEntry{
		Kind: "abort", Topology: string(topology.Star), Reason: "quiesce_timeout",
		Dropped: JSONB{"queue_full": float64(2)},
	}))

	entries, err := c.RecentIntentLogEntries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "abort", entries[0].Kind)
	assert.Equal(t, "quiesce_timeout", entries[0].Reason)
	assert.Equal(t, float64(2), entries[0].Dropped["queue_full"])
	assert.Equal(t, "begin_prepare", entries[1].Kind)
}

func TestIntentLogAdapterWritesOnSwitchPhases(t *testing.T) {
	c := newTestClient(t)
	adapter := NewIntentLogAdapter(c)

	require.NoError(t, adapter.BeginPrepare(topology.Chain))
	require.NoError(t, adapter.Commit(7))
	require.NoError(t, adapter.Abort("quiesce_timeout", map[message.DropReason]int64{message.DropQueueFull: 2}))

	time.Sleep(100 * time.Millisecond)

	var count int
	require.NoError(t, c.GetDB().QueryRow("SELECT COUNT(*) FROM intent_log").Scan(&count))
	assert.Equal(t, 3, count)
}
