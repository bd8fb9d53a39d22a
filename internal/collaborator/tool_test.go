package collaborator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*FSToolAdapter, string) {
	t.Helper()
	root := t.TempDir()
	adapter, err := NewFSToolAdapter(root)
	require.NoError(t, err)
	return adapter, root
}

func TestWriteThenReadFileRoundTrips(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	require.NoError(t, adapter.WriteFile(context.Background(), "sub/dir/out.txt", []byte("hello")))
	got, err := adapter.ReadFile(context.Background(), "sub/dir/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestResolveRejectsPathEscapingRoot(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.ReadFile(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("nope"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	adapter, err := NewFSToolAdapter(root)
	require.NoError(t, err)

	_, err = adapter.ReadFile(context.Background(), "link/secret.txt")
	assert.Error(t, err)
}

func TestRunTestsReportsPassOnZeroExit(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	result, err := adapter.RunTests(context.Background(), "", []string{"true"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
}

func TestRunTestsReportsFailOnNonZeroExit(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	result, err := adapter.RunTests(context.Background(), "", []string{"false"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestRunTestsRejectsEmptyCommand(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	_, err := adapter.RunTests(context.Background(), "", nil, time.Second)
	assert.Error(t, err)
}

func TestRunTestsKillsOnTimeout(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	_, err := adapter.RunTests(context.Background(), "", []string{"sleep", "5"}, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
