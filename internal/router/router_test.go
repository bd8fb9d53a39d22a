package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apex-run/apex/internal/dedup"
	"github.com/apex-run/apex/internal/message"
	"github.com/apex-run/apex/internal/topology"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dedupStore, err := dedup.New(nil)
	require.NoError(t, err)
	t.Cleanup(dedupStore.Close)
	return New(Config{}, dedupStore, zaptest.NewLogger(t))
}

func TestRouteStarRewritesNonHubToHub(t *testing.T) {
	r := newTestRouter(t)
	msg, err := message.New("ep-1", topology.Coder, topology.Runner, nil)
	require.NoError(t, err)

	res := r.Route(context.Background(), topology.Star, msg, nil)
	require.True(t, res.Admitted)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, topology.StarHub, res.Messages[0].Recipient)
	assert.Equal(t, topology.Runner, res.Messages[0].Payload["forward_to"])
}

func TestRouteChainRejectsWrongHop(t *testing.T) {
	r := newTestRouter(t)
	msg, err := message.New("ep-1", topology.Planner, topology.Runner, nil)
	require.NoError(t, err)

	res := r.Route(context.Background(), topology.Chain, msg, nil)
	assert.False(t, res.Admitted)
	assert.Equal(t, message.DropTopologyViolation, res.Reason)
}

func TestRouteFlatFanoutBound(t *testing.T) {
	r := newTestRouter(t)
	msg, err := message.New("ep-1", topology.Planner, "", nil)
	require.NoError(t, err)

	res := r.Route(context.Background(), topology.Flat, msg, []string{topology.Coder, topology.Runner})
	require.True(t, res.Admitted)
	assert.Len(t, res.Messages, 2)
	assert.NotEqual(t, res.Messages[0].MsgID, res.Messages[1].MsgID)

	msg2, err := message.New("ep-1", topology.Planner, "", nil)
	require.NoError(t, err)
	res2 := r.Route(context.Background(), topology.Flat, msg2, []string{topology.Coder, topology.Runner, topology.Critic})
	assert.False(t, res2.Admitted)
}

func TestRouteDeduplicatesRepeatedMsgID(t *testing.T) {
	r := newTestRouter(t)
	msg, err := message.New("ep-1", topology.Coder, topology.Planner, nil)
	require.NoError(t, err)

	first := r.Route(context.Background(), topology.Star, msg, nil)
	require.True(t, first.Admitted)

	second := r.Route(context.Background(), topology.Star, msg, nil)
	assert.False(t, second.Admitted)
	assert.Equal(t, message.DropDedupDuplicate, second.Reason)
}

func TestDequeueSkipsExpiredMessages(t *testing.T) {
	r := newTestRouter(t)
	msg, err := message.New("ep-1", topology.Coder, topology.Planner, nil)
	require.NoError(t, err)
	msg.WithTTL(0)

	res := r.Route(context.Background(), topology.Star, msg, nil)
	require.True(t, res.Admitted)

	assert.Nil(t, r.Dequeue(topology.Planner))
}

func TestCommitMigratesBufferedMessages(t *testing.T) {
	r := newTestRouter(t)
	r.BeginPrepare()

	msg, err := message.New("ep-1", topology.Coder, topology.Planner, nil)
	require.NoError(t, err)
	res := r.Route(context.Background(), topology.Star, msg, nil)
	require.True(t, res.Admitted)

	assert.Nil(t, r.Dequeue(topology.Planner), "buffered message must not be visible before commit")

	epoch, migrated := r.Commit()
	assert.Equal(t, uint64(2), epoch)
	assert.Equal(t, 1, migrated)

	got := r.Dequeue(topology.Planner)
	require.NotNil(t, got)
	assert.Equal(t, msg.MsgID, got.MsgID)
}

func TestAbortPreservesFIFOWithoutAdvancingEpoch(t *testing.T) {
	r := newTestRouter(t)

	firstMsg, err := message.New("ep-1", topology.Coder, topology.Planner, nil)
	require.NoError(t, err)
	require.True(t, r.Route(context.Background(), topology.Star, firstMsg, nil).Admitted)

	r.BeginPrepare()
	secondMsg, err := message.New("ep-1", topology.Coder, topology.Planner, nil)
	require.NoError(t, err)
	require.True(t, r.Route(context.Background(), topology.Star, secondMsg, nil).Admitted)

	r.Abort()
	assert.Equal(t, uint64(1), r.CurrentEpoch())

	first := r.Dequeue(topology.Planner)
	second := r.Dequeue(topology.Planner)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, firstMsg.MsgID, first.MsgID)
	assert.Equal(t, secondMsg.MsgID, second.MsgID)
}
