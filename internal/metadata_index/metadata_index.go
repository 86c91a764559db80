// Package metadata_index holds the durable id -> ChunkRecord mapping used by
// the persistent chunk store. Payload bytes are never stored in the index.
package metadata_index

import (
	"context"

	"github.com/AnishMulay/sandreplay/internal/chunk"
)

type MetadataIndex interface {
	// Put inserts or replaces the record keyed by its ID.
	Put(ctx context.Context, record chunk.ChunkRecord) error
	// Delete removes the record; ErrRecordNotFound when absent.
	Delete(ctx context.Context, id string) error
	// ListAll returns every record in key order. Callers sort by time themselves.
	ListAll(ctx context.Context) ([]chunk.ChunkRecord, error)
	Close() error
}
