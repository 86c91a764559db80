// Package indextest runs the same behavioural checks against every MetadataIndex.
package indextest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
)

// Run exercises put/delete/list semantics. newIndex must return an empty index.
func Run(t *testing.T, newIndex func(t *testing.T) metadata_index.MetadataIndex) {
	ctx := context.Background()

	t.Run("list empty", func(t *testing.T) {
		mi := newIndex(t)
		records, err := mi.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("put then list in key order", func(t *testing.T) {
		mi := newIndex(t)
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "b", BlobName: "b.chunk", RelativeStartTime: 2, Seq: 1}))
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk", RelativeStartTime: 4.5, Seq: 2}))
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "c", BlobName: "c.chunk", RelativeStartTime: 0, Seq: 0}))

		records, err := mi.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "a", records[0].ID)
		assert.Equal(t, "b", records[1].ID)
		assert.Equal(t, "c", records[2].ID)
		assert.Equal(t, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk", RelativeStartTime: 4.5, Seq: 2}, records[0])
	})

	t.Run("put replaces", func(t *testing.T) {
		mi := newIndex(t)
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "old", RelativeStartTime: 1}))
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "new", RelativeStartTime: 1}))

		records, err := mi.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "new", records[0].BlobName)
	})

	t.Run("payload is not stored", func(t *testing.T) {
		mi := newIndex(t)
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk", Payload: []byte("bytes")}))

		records, err := mi.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Nil(t, records[0].Payload)
	})

	t.Run("delete", func(t *testing.T) {
		mi := newIndex(t)
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk"}))
		require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "b", BlobName: "b.chunk"}))

		require.NoError(t, mi.Delete(ctx, "a"))
		assert.ErrorIs(t, mi.Delete(ctx, "a"), metadata_index.ErrRecordNotFound)
		assert.ErrorIs(t, mi.Delete(ctx, "missing"), metadata_index.ErrRecordNotFound)

		records, err := mi.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "b", records[0].ID)
	})

	t.Run("cancelled context", func(t *testing.T) {
		mi := newIndex(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, mi.Put(cctx, chunk.ChunkRecord{ID: "a"}))
	})
}
