package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homewatt/homewatt/pkg/store"
)

func TestDocumentStore_SetAndGet(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	err := s.Set(ctx, "users/u1", map[string]any{"name": "Ada"})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	require.Equal(t, "u1", snap.ID)
	require.Equal(t, "Ada", snap.Fields["name"])
}

func TestDocumentStore_GetMissing(t *testing.T) {
	s := NewDocumentStore()

	_, err := s.Get(context.Background(), "users/nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentStore_InvalidPaths(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	// Odd segment count is a collection, not a document.
	require.Error(t, s.Set(ctx, "users", map[string]any{}))
	// Empty segment.
	require.Error(t, s.Set(ctx, "users//u1", map[string]any{}))
	// Even segment count is a document, not a collection.
	_, err := s.ListDocuments(ctx, "users/u1", store.ListOptions{})
	require.Error(t, err)
}

func TestDocumentStore_MergePreservesFields(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "last_week/dev1", map[string]any{"label": "kitchen"}))
	require.NoError(t, s.Merge(ctx, "last_week/dev1", map[string]any{"total_power_consumption": 2.5}))

	snap, err := s.Get(ctx, "last_week/dev1")
	require.NoError(t, err)
	require.Equal(t, "kitchen", snap.Fields["label"])
	require.Equal(t, 2.5, snap.Fields["total_power_consumption"])
}

func TestDocumentStore_MergeCreatesDocument(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, "last_week/dev1", map[string]any{"total_power_consumption": 1.0}))

	snap, err := s.Get(ctx, "last_week/dev1")
	require.NoError(t, err)
	require.Equal(t, 1.0, snap.Fields["total_power_consumption"])
}

func TestDocumentStore_DeleteKeepsSubcollections(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "environmental_data/u1", map[string]any{"kind": "summary"}))
	require.NoError(t, s.Set(ctx, "environmental_data/u1/readings/r1", map[string]any{"v": 1.0}))

	require.NoError(t, s.Delete(ctx, "environmental_data/u1"))

	_, err := s.Get(ctx, "environmental_data/u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The sub-collection survives the parent delete.
	cols, err := s.ListCollections(ctx, "environmental_data/u1")
	require.NoError(t, err)
	require.Equal(t, []string{"readings"}, cols)

	snap, err := s.Get(ctx, "environmental_data/u1/readings/r1")
	require.NoError(t, err)
	require.Equal(t, 1.0, snap.Fields["v"])
}

func TestDocumentStore_DeleteMissingIsNoop(t *testing.T) {
	s := NewDocumentStore()
	require.NoError(t, s.Delete(context.Background(), "users/nope"))
}

func TestDocumentStore_ListDocumentsOrderAndPaging(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b", "d"} {
		require.NoError(t, s.Set(ctx, "last_week/dev1/history/"+id, map[string]any{"id": id}))
	}

	page, err := s.ListDocuments(ctx, "last_week/dev1/history", store.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "a", page[0].ID)
	require.Equal(t, "b", page[1].ID)

	page, err = s.ListDocuments(ctx, "last_week/dev1/history", store.ListOptions{Limit: 2, StartAfter: "b"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "c", page[0].ID)
	require.Equal(t, "d", page[1].ID)
}

func TestDocumentStore_ListDocumentsSkipsDeleted(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "last_week/dev1/history/t1", map[string]any{}))
	require.NoError(t, s.Set(ctx, "last_week/dev1/history/t2", map[string]any{}))
	require.NoError(t, s.Delete(ctx, "last_week/dev1/history/t1"))

	page, err := s.ListDocuments(ctx, "last_week/dev1/history", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "t2", page[0].ID)
}

func TestDocumentStore_SnapshotDoesNotAliasStore(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "users/u1", map[string]any{"tags": map[string]any{"a": 1.0}}))

	snap, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	snap.Fields["tags"].(map[string]any)["a"] = 99.0

	again, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	require.Equal(t, 1.0, again.Fields["tags"].(map[string]any)["a"])
}

func TestTreeStore_PutGetDeleteSubtree(t *testing.T) {
	s := NewTreeStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "devices/u1/lamp", map[string]any{"on": true}))
	require.NoError(t, s.Put(ctx, "devices/u1/heater", map[string]any{"on": false}))
	require.NoError(t, s.Put(ctx, "devices/u2/lamp", map[string]any{"on": true}))

	_, ok, err := s.Get(ctx, "devices/u1/lamp")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteSubtree(ctx, "devices/u1"))

	_, ok, err = s.Get(ctx, "devices/u1/lamp")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.Get(ctx, "devices/u1/heater")
	require.NoError(t, err)
	require.False(t, ok)

	// Other users' subtrees are untouched.
	_, ok, err = s.Get(ctx, "devices/u2/lamp")
	require.NoError(t, err)
	require.True(t, ok)
}
