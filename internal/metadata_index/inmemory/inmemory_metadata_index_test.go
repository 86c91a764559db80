package inmemory

import (
	"testing"

	"github.com/AnishMulay/sandreplay/internal/metadata_index"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/indextest"
)

func TestInMemoryMetadataIndex(t *testing.T) {
	indextest.Run(t, func(t *testing.T) metadata_index.MetadataIndex {
		return NewInMemoryMetadataIndex()
	})
}
