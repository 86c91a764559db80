package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/log_service/nop"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/indextest"
)

func TestSQLiteMetadataIndex(t *testing.T) {
	indextest.Run(t, func(t *testing.T) metadata_index.MetadataIndex {
		mi, err := Open(filepath.Join(t.TempDir(), "meta.db"), nop.New())
		require.NoError(t, err)
		t.Cleanup(func() { _ = mi.Close() })
		return mi
	})
}

func TestSQLiteMetadataIndex_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")

	mi, err := Open(path, nop.New())
	require.NoError(t, err)
	require.NoError(t, mi.Put(ctx, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk", RelativeStartTime: 1.25, Seq: 7}))
	require.NoError(t, mi.Close())

	mi, err = Open(path, nop.New())
	require.NoError(t, err)
	defer mi.Close()

	records, err := mi.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, chunk.ChunkRecord{ID: "a", BlobName: "a.chunk", RelativeStartTime: 1.25, Seq: 7}, records[0])
}

func TestOpen_Unavailable(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "meta.db"), nop.New())
	assert.ErrorIs(t, err, metadata_index.ErrIndexUnavailable)
}
