package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "todos.db"))
	require.NoError(t, err, "store setup")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AddAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id1, err := store.Add(ctx, "first")
	require.NoError(t, err)
	id2, err := store.Add(ctx, "second")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	todos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 2)
	// Newest first.
	require.Equal(t, "second", todos[0].Title)
	require.Equal(t, "first", todos[1].Title)
	require.False(t, todos[0].Done)
}

func TestStore_ToggleAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "task")
	require.NoError(t, err)
	_, err = store.Add(ctx, "keep")
	require.NoError(t, err)

	require.NoError(t, store.Toggle(ctx, id))
	todos, err := store.List(ctx)
	require.NoError(t, err)
	require.True(t, todos[1].Done)

	require.NoError(t, store.ClearCompleted(ctx))
	todos, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	require.Equal(t, "keep", todos[0].Title)
}

func TestStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSeed_OnlyWhenEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, seed(ctx, store))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// A second run must not double the data.
	require.NoError(t, seed(ctx, store))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}
