package volatile

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/log_service"
)

type Options struct {
	RetentionSeconds float64
	ChunkSeconds     float64
	Clock            clock.Clock
	Log              log_service.LogService
	Observer         chunk_store.Observer
}

// Capacity is the number of chunks a volatile store keeps: floor(retention / chunk length).
func Capacity(retentionSeconds, chunkSeconds float64) int {
	if chunkSeconds <= 0 || retentionSeconds <= 0 {
		return 0
	}
	return int(math.Floor(retentionSeconds / chunkSeconds))
}

// VolatileChunkStore keeps the most recent chunks in memory and evicts by count.
// If the real chunk cadence drifts from ChunkSeconds the retained duration drifts with it.
type VolatileChunkStore struct {
	mu        sync.RWMutex
	capacity  int
	retention float64
	clock     clock.Clock
	ls        log_service.LogService
	obs       chunk_store.Observer

	epoch    float64
	epochSet bool
	nextSeq  uint64
	records  []chunk.ChunkRecord
}

func NewVolatileChunkStore(opts Options) (*VolatileChunkStore, error) {
	capacity := Capacity(opts.RetentionSeconds, opts.ChunkSeconds)
	if capacity < 1 {
		return nil, fmt.Errorf("%w: retention %.2fs holds no %.2fs chunks", chunk_store.ErrInvalidOptions, opts.RetentionSeconds, opts.ChunkSeconds)
	}
	if opts.Clock == nil || opts.Log == nil {
		return nil, fmt.Errorf("%w: clock and log service are required", chunk_store.ErrInvalidOptions)
	}
	obs := opts.Observer
	if obs == nil {
		obs = chunk_store.NoopObserver{}
	}

	return &VolatileChunkStore{
		capacity:  capacity,
		retention: opts.RetentionSeconds,
		clock:     opts.Clock,
		ls:        opts.Log,
		obs:       obs,
		records:   make([]chunk.ChunkRecord, 0, capacity+1),
	}, nil
}

func (s *VolatileChunkStore) Capacity() int {
	return s.capacity
}

// Init has nothing to prepare.
func (s *VolatileChunkStore) Init(ctx context.Context) error {
	return nil
}

func (s *VolatileChunkStore) AddChunk(ctx context.Context, payload []byte) error {
	now := s.clock.Elapsed()

	s.mu.Lock()
	if !s.epochSet {
		s.epoch = now
		s.epochSet = true
	}
	rec := chunk.ChunkRecord{
		ID:                fmt.Sprintf("mem-%d", s.nextSeq),
		RelativeStartTime: now - s.epoch,
		Seq:               s.nextSeq,
		Payload:           slices.Clone(payload),
	}
	s.nextSeq++
	s.records = append(s.records, rec)

	evicted := 0
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = slices.Delete(s.records, 0, over)
		evicted = over
	}
	retained := len(s.records)
	s.mu.Unlock()

	s.obs.ChunkAdded(chunk_store.BackendVolatile)
	if evicted > 0 {
		s.obs.ChunksEvicted(chunk_store.BackendVolatile, evicted)
	}
	s.obs.Retained(chunk_store.BackendVolatile, retained)

	s.ls.Debug(log_service.LogEvent{
		Message:  "Chunk added",
		Metadata: map[string]any{"chunkID": rec.ID, "start": rec.RelativeStartTime, "size": len(payload), "evicted": evicted},
	})
	return nil
}

// GetChunkForTime returns a copy of the stored payload.
func (s *VolatileChunkStore) GetChunkForTime(ctx context.Context, targetSeconds float64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := chunk_store.Floor(s.records, targetSeconds)
	if i < 0 {
		s.obs.Lookup(chunk_store.BackendVolatile, chunk_store.LookupMiss)
		return nil, false, nil
	}
	s.obs.Lookup(chunk_store.BackendVolatile, chunk_store.LookupHit)
	return slices.Clone(s.records[i].Payload), true, nil
}

func (s *VolatileChunkStore) Stats() chunk_store.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := chunk_store.StatsOf(chunk_store.BackendVolatile, s.records, s.retention)
	st.Epoch, st.EpochSet = s.epoch, s.epochSet
	return st
}

// Close drops every retained chunk.
func (s *VolatileChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

var _ chunk_store.ChunkStore = (*VolatileChunkStore)(nil)
