package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndMarkDetectsDuplicate(t *testing.T) {
	store, err := New(nil)
	require.NoError(t, err)
	defer store.Close()

	dup := store.CheckAndMark("coder", "ep-1", "msg-1")
	assert.False(t, dup)

	dup = store.CheckAndMark("coder", "ep-1", "msg-1")
	assert.True(t, dup)
	assert.Equal(t, int64(1), store.Duplicates())
}

func TestCheckAndMarkIsPerRecipient(t *testing.T) {
	store, err := New(nil)
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.CheckAndMark("coder", "ep-1", "msg-1"))
	assert.False(t, store.CheckAndMark("runner", "ep-1", "msg-1"))
}

func TestCheckAndMarkExpiresAfterTTL(t *testing.T) {
	store, err := New(&Config{TTL: 20 * time.Millisecond})
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.CheckAndMark("coder", "ep-1", "msg-1"))
	time.Sleep(150 * time.Millisecond)
	assert.False(t, store.CheckAndMark("coder", "ep-1", "msg-1"))
}
