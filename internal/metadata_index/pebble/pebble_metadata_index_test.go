package pebblestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/log_service/nop"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/indextest"
)

func TestPebbleMetadataIndex(t *testing.T) {
	indextest.Run(t, func(t *testing.T) metadata_index.MetadataIndex {
		mi, err := Open(Options{DataDir: t.TempDir()}, nop.New())
		require.NoError(t, err)
		t.Cleanup(func() { _ = mi.Close() })
		return mi
	})
}

func TestPebbleMetadataIndex_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mi, err := Open(Options{DataDir: dir, Sync: true}, nop.New())
	require.NoError(t, err)
	require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "x", BlobName: "x.chunk", RelativeStartTime: 3, Seq: 2}))
	require.NoError(t, mi.Close())

	mi, err = Open(Options{DataDir: dir}, nop.New())
	require.NoError(t, err)
	defer mi.Close()

	records, err := mi.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chunk.ChunkRecord{{ID: "x", BlobName: "x.chunk", RelativeStartTime: 3, Seq: 2}}, records)
}

func TestOpen_RequiresDataDir(t *testing.T) {
	_, err := Open(Options{}, nop.New())
	assert.ErrorIs(t, err, metadata_index.ErrIndexUnavailable)
}
