package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	planner = "planner"
	coder   = "coder"
)

func TestNewAssignsDefaults(t *testing.T) {
	msg, err := New("ep-1", planner, coder, map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MsgID)
	assert.Equal(t, PriorityFinal, msg.Priority)
	assert.Equal(t, 0, msg.Attempt)
	assert.False(t, msg.Redelivered)
	assert.WithinDuration(t, msg.CreatedTS.Add(DefaultTTL), msg.ExpiresTS, time.Millisecond)
}

func TestNewRejectsOversizedPayload(t *testing.T) {
	big := strings.Repeat("x", PayloadMaxBytes+1)
	_, err := New("ep-1", planner, coder, map[string]interface{}{"blob": big})
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	msg, err := New("ep-1", planner, coder, nil)
	require.NoError(t, err)
	msg.WithTTL(time.Millisecond)
	assert.True(t, msg.Expired(msg.CreatedTS.Add(time.Second)))
	assert.False(t, msg.Expired(msg.CreatedTS))
}

func TestMarkRetryAndMaxAttempts(t *testing.T) {
	msg, err := New("ep-1", planner, coder, nil)
	require.NoError(t, err)
	for i := 0; i < DefaultMaxAttempts; i++ {
		assert.False(t, msg.MaxAttemptsExceeded(DefaultMaxAttempts))
		msg.MarkRetry()
	}
	assert.True(t, msg.MaxAttemptsExceeded(DefaultMaxAttempts))
	assert.True(t, msg.Redelivered)
	assert.Equal(t, DefaultMaxAttempts, msg.Attempt)
}

func TestCloneAssignsFreshID(t *testing.T) {
	msg, err := New("ep-1", planner, "", nil)
	require.NoError(t, err)
	c1 := msg.Clone("coder")
	c2 := msg.Clone("runner")
	assert.NotEqual(t, msg.MsgID, c1.MsgID)
	assert.NotEqual(t, c1.MsgID, c2.MsgID)
	assert.Equal(t, "coder", c1.Recipient)
	assert.Equal(t, "runner", c2.Recipient)
}
