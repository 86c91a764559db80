// Package chunk_store defines the time-ordered chunk store contract shared by
// the volatile and persistent backends.
package chunk_store

import "context"

const (
	BackendVolatile   = "volatile"
	BackendPersistent = "persistent"
)

// ChunkStore keeps a bounded, time-ordered sequence of opaque chunks.
//
// AddChunk calls must be serialized by the caller. GetChunkForTime may run
// concurrently with AddChunk and observes the store either before or after a
// given AddChunk, never in between.
type ChunkStore interface {
	// Init prepares backend resources. It is idempotent.
	Init(ctx context.Context) error
	// AddChunk appends one chunk stamped with the time elapsed since the store
	// epoch, then evicts whatever falls outside the retention budget.
	AddChunk(ctx context.Context, payload []byte) error
	// GetChunkForTime returns the payload of the latest chunk starting at or
	// before targetSeconds. ok is false when nothing covers the target.
	GetChunkForTime(ctx context.Context, targetSeconds float64) (payload []byte, ok bool, err error)
	Stats() Stats
	Close() error
}

// Stats is a point-in-time summary of a store.
type Stats struct {
	Backend          string
	Count            int
	Oldest           float64
	Newest           float64
	RetentionSeconds float64
	// Epoch is the clock reading latched by the first chunk; valid when EpochSet.
	Epoch    float64
	EpochSet bool
}

// Observer receives store activity. Implementations must be safe for concurrent use.
type Observer interface {
	ChunkAdded(backend string)
	ChunksEvicted(backend string, n int)
	Retained(backend string, n int)
	StoreError(backend string, kind string)
	Lookup(backend string, result string)
}

const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// NoopObserver is used when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) ChunkAdded(string)         {}
func (NoopObserver) ChunksEvicted(string, int) {}
func (NoopObserver) Retained(string, int)      {}
func (NoopObserver) StoreError(string, string) {}
func (NoopObserver) Lookup(string, string)     {}
