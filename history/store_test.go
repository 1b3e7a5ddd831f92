package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRecordAndRecent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "SELECT 1", "SELECT 1 /* fast */", 2.0))
	require.NoError(t, store.Record(ctx, "SELECT 2", "SELECT 2 /* fast */", 3.5))
	require.NoError(t, store.Record(ctx, "SELECT 3", "SELECT 3 /* fast */", 1.1))

	entries, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "SELECT 3", entries[0].OriginalSQL, "newest first")
	assert.Equal(t, "SELECT 2", entries[1].OriginalSQL)
	assert.False(t, entries[0].RecordedAt.IsZero())
}

func TestStoreResumesSequence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, "SELECT a", "SELECT a", 2.0))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Record(ctx, "SELECT b", "SELECT b", 2.0))

	entries, err := reopened.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "reopening must not overwrite earlier entries")
	assert.Equal(t, "SELECT b", entries[0].OriginalSQL)
}

func TestFewShotExamplesFilterByRatio(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "SELECT slow", "SELECT slow", 1.05))
	require.NoError(t, store.Record(ctx, "SELECT fast", "SELECT fast", 4.0))

	examples, err := store.FewShotExamples(5, 1.5)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, "SELECT fast", examples[0].OriginalSQL)
	assert.Equal(t, 4.0, examples[0].SpeedupRatio)
}
