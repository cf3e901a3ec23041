package taskcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task_cache.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStatusAbsentForUnknownItem(t *testing.T) {
	store, _ := openTempStore(t)

	status, err := store.Status(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)
}

func TestSetStatusUpserts(t *testing.T) {
	store, _ := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "12345", StatusCreated))
	status, err := store.Status(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, status)

	require.NoError(t, store.SetStatus(ctx, "12345", StatusCollecting))
	require.NoError(t, store.SetStatus(ctx, "12345", StatusFinished))
	status, err = store.Status(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
}

func TestStatusSurvivesReopen(t *testing.T) {
	store, path := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "post-1", StatusFinished))
	require.NoError(t, store.SetStatus(ctx, "post-2", StatusCollecting))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	status, err := reopened.Status(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)

	status, err = reopened.Status(ctx, "post-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCollecting, status)
}

func TestRemoveWipesLedger(t *testing.T) {
	store, path := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "post-1", StatusFinished))
	require.NoError(t, store.Close())

	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	fresh, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = fresh.Close() }()

	status, err := fresh.Status(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)
}

func TestRemoveMissingFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never_created.db")
	assert.NoError(t, Remove(path))
}
