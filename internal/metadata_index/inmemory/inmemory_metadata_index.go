package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
)

// InMemoryMetadataIndex keeps records in a map. It survives Init/reload cycles
// of a store but not the process.
type InMemoryMetadataIndex struct {
	mu      sync.RWMutex
	records map[string]chunk.ChunkRecord
}

func NewInMemoryMetadataIndex() *InMemoryMetadataIndex {
	return &InMemoryMetadataIndex{
		records: make(map[string]chunk.ChunkRecord),
	}
}

func (mi *InMemoryMetadataIndex) Put(ctx context.Context, record chunk.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.records[record.ID] = metadata_index.Stripped(record)
	return nil
}

func (mi *InMemoryMetadataIndex) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()

	if _, exists := mi.records[id]; !exists {
		return metadata_index.ErrRecordNotFound
	}
	delete(mi.records, id)
	return nil
}

func (mi *InMemoryMetadataIndex) ListAll(ctx context.Context) ([]chunk.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mi.mu.RLock()
	defer mi.mu.RUnlock()

	records := make([]chunk.ChunkRecord, 0, len(mi.records))
	for _, r := range mi.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (mi *InMemoryMetadataIndex) Close() error {
	return nil
}

var _ metadata_index.MetadataIndex = (*InMemoryMetadataIndex)(nil)
