package persistent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/AnishMulay/sandreplay/internal/blob_area"
	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/log_service"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
)

const blobSuffix = ".chunk"

// DefaultIOTimeout bounds every blob area and metadata index call.
const DefaultIOTimeout = 5 * time.Second

type Options struct {
	RetentionSeconds float64
	IOTimeout        time.Duration
	Clock            clock.Clock
	Index            metadata_index.MetadataIndex
	Blobs            blob_area.BlobArea
	Log              log_service.LogService
	Observer         chunk_store.Observer
	// NewID overrides chunk id generation; ids must never repeat.
	NewID func() string
}

// BlobName derives the blob name of a chunk id.
func BlobName(id string) string {
	return id + blobSuffix
}

// PersistentChunkStore writes payloads to a blob area, records them in a
// metadata index, and keeps a sorted in-memory cache of the index for lookups.
// Chunks older than RetentionSeconds behind the newest chunk are evicted.
type PersistentChunkStore struct {
	// ingestMu serializes AddChunk and Init.
	ingestMu sync.Mutex
	// mu guards cache. Lookups hold it for reading across the blob read so a
	// concurrent eviction cannot delete the blob they picked.
	mu    sync.RWMutex
	cache []chunk.ChunkRecord

	retention float64
	ioTimeout time.Duration
	clock     clock.Clock
	index     metadata_index.MetadataIndex
	blobs     blob_area.BlobArea
	ls        log_service.LogService
	obs       chunk_store.Observer
	newID     func() string

	epoch    float64
	epochSet bool
	nextSeq  uint64
}

func NewPersistentChunkStore(opts Options) (*PersistentChunkStore, error) {
	if opts.RetentionSeconds <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive, got %v", chunk_store.ErrInvalidOptions, opts.RetentionSeconds)
	}
	if opts.Clock == nil || opts.Index == nil || opts.Blobs == nil || opts.Log == nil {
		return nil, fmt.Errorf("%w: clock, index, blob area and log service are required", chunk_store.ErrInvalidOptions)
	}

	s := &PersistentChunkStore{
		retention: opts.RetentionSeconds,
		ioTimeout: opts.IOTimeout,
		clock:     opts.Clock,
		index:     opts.Index,
		blobs:     opts.Blobs,
		ls:        opts.Log,
		obs:       opts.Observer,
		newID:     opts.NewID,
	}
	if s.ioTimeout <= 0 {
		s.ioTimeout = DefaultIOTimeout
	}
	if s.obs == nil {
		s.obs = chunk_store.NoopObserver{}
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s, nil
}

func (s *PersistentChunkStore) io(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.ioTimeout)
}

// Init loads the metadata index into the cache. Before the first chunk it also
// clears records and blobs left behind by an earlier process, since chunk times
// from another epoch cannot be ordered against this one. Blobs without a
// metadata record are removed on every call.
func (s *PersistentChunkStore) Init(ctx context.Context) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	ioCtx, cancel := s.io(ctx)
	records, err := s.index.ListAll(ioCtx)
	cancel()
	if err != nil {
		s.obs.StoreError(chunk_store.BackendPersistent, chunk_store.ErrorKind(chunk_store.ErrBackendUnavailable))
		return fmt.Errorf("%w: load metadata: %w", chunk_store.ErrBackendUnavailable, err)
	}

	if !s.epochSet && len(records) > 0 {
		s.ls.Info(log_service.LogEvent{
			Message:  "Discarding chunks from a previous session",
			Metadata: map[string]any{"count": len(records)},
		})
		s.evict(ctx, records)
		records = nil
	}

	chunk_store.SortRecords(records)
	s.sweepOrphans(ctx, records)

	var nextSeq uint64
	for _, r := range records {
		if r.Seq >= nextSeq {
			nextSeq = r.Seq + 1
		}
	}

	s.mu.Lock()
	s.cache = records
	if nextSeq > s.nextSeq {
		s.nextSeq = nextSeq
	}
	retained := len(s.cache)
	s.mu.Unlock()

	s.obs.Retained(chunk_store.BackendPersistent, retained)
	s.ls.Info(log_service.LogEvent{
		Message:  "Persistent chunk store initialized",
		Metadata: map[string]any{"retained": retained, "retentionSeconds": s.retention},
	})
	return nil
}

func (s *PersistentChunkStore) sweepOrphans(ctx context.Context, records []chunk.ChunkRecord) {
	ioCtx, cancel := s.io(ctx)
	names, err := s.blobs.List(ioCtx)
	cancel()
	if err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Failed to list blobs for orphan sweep",
			Metadata: map[string]any{"error": err.Error()},
		})
		return
	}

	referenced := make(map[string]struct{}, len(records))
	for _, r := range records {
		referenced[r.BlobName] = struct{}{}
	}
	for _, name := range names {
		if _, ok := referenced[name]; ok {
			continue
		}
		ioCtx, cancel := s.io(ctx)
		err := s.blobs.Delete(ioCtx, name)
		cancel()
		if err != nil {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Failed to delete orphan blob",
				Metadata: map[string]any{"blob": name, "error": err.Error()},
			})
		}
	}
}

func (s *PersistentChunkStore) AddChunk(ctx context.Context, payload []byte) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	now := s.clock.Elapsed()
	if !s.epochSet {
		s.mu.Lock()
		s.epoch = now
		s.epochSet = true
		s.mu.Unlock()
	}

	id := s.newID()
	rec := chunk.ChunkRecord{
		ID:                id,
		BlobName:          BlobName(id),
		RelativeStartTime: now - s.epoch,
		Seq:               s.nextSeq,
	}
	s.nextSeq++

	ioCtx, cancel := s.io(ctx)
	err := s.blobs.Write(ioCtx, rec.BlobName, payload)
	cancel()
	if err != nil {
		return s.writeFailed(rec, "blob", err)
	}

	ioCtx, cancel = s.io(ctx)
	err = s.index.Put(ioCtx, rec)
	cancel()
	if err != nil {
		// Drop the blob so it does not outlive its missing record.
		ioCtx, cancel = s.io(ctx)
		_ = s.blobs.Delete(ioCtx, rec.BlobName)
		cancel()
		return s.writeFailed(rec, "metadata", err)
	}

	// Membership changes are applied under one lock; file deletions happen after.
	cutoff := rec.RelativeStartTime - s.retention
	s.mu.Lock()
	s.cache = append(s.cache, rec)
	if n := len(s.cache); n > 1 && chunk.Less(s.cache[n-1], s.cache[n-2]) {
		chunk_store.SortRecords(s.cache)
	}
	cut := chunk_store.CutoffIndex(s.cache, cutoff)
	evicted := slices.Clone(s.cache[:cut])
	s.cache = slices.Delete(s.cache, 0, cut)
	retained := len(s.cache)
	s.mu.Unlock()

	s.evict(ctx, evicted)

	s.obs.ChunkAdded(chunk_store.BackendPersistent)
	if len(evicted) > 0 {
		s.obs.ChunksEvicted(chunk_store.BackendPersistent, len(evicted))
	}
	s.obs.Retained(chunk_store.BackendPersistent, retained)

	s.ls.Debug(log_service.LogEvent{
		Message:  "Chunk added",
		Metadata: map[string]any{"chunkID": rec.ID, "start": rec.RelativeStartTime, "size": len(payload), "evicted": len(evicted)},
	})
	return nil
}

func (s *PersistentChunkStore) writeFailed(rec chunk.ChunkRecord, stage string, err error) error {
	s.ls.Error(log_service.LogEvent{
		Message:  "Dropping chunk after failed write",
		Metadata: map[string]any{"chunkID": rec.ID, "stage": stage, "error": err.Error()},
	})
	s.obs.StoreError(chunk_store.BackendPersistent, chunk_store.ErrorKind(chunk_store.ErrWriteFailed))
	if chunk_store.IsTimeout(err) {
		return fmt.Errorf("%w: %s %s: %w", chunk_store.ErrWriteFailed, stage, rec.ID, errors.Join(chunk_store.ErrBackendUnavailable, err))
	}
	return fmt.Errorf("%w: %s %s: %w", chunk_store.ErrWriteFailed, stage, rec.ID, err)
}

// evict deletes the blob and then the metadata of each record. Failures are
// logged and otherwise ignored.
func (s *PersistentChunkStore) evict(ctx context.Context, records []chunk.ChunkRecord) {
	for _, r := range records {
		ioCtx, cancel := s.io(ctx)
		if err := s.blobs.Delete(ioCtx, r.BlobName); err != nil {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Failed to delete evicted blob",
				Metadata: map[string]any{"chunkID": r.ID, "blob": r.BlobName, "error": err.Error()},
			})
		}
		cancel()

		ioCtx, cancel = s.io(ctx)
		if err := s.index.Delete(ioCtx, r.ID); err != nil && !errors.Is(err, metadata_index.ErrRecordNotFound) {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Failed to delete evicted metadata",
				Metadata: map[string]any{"chunkID": r.ID, "error": err.Error()},
			})
		}
		cancel()
	}
}

func (s *PersistentChunkStore) GetChunkForTime(ctx context.Context, targetSeconds float64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := chunk_store.Floor(s.cache, targetSeconds)
	if i < 0 {
		s.obs.Lookup(chunk_store.BackendPersistent, chunk_store.LookupMiss)
		return nil, false, nil
	}
	rec := s.cache[i]

	ioCtx, cancel := s.io(ctx)
	data, err := s.blobs.Read(ioCtx, rec.BlobName)
	cancel()
	if err != nil {
		s.obs.Lookup(chunk_store.BackendPersistent, chunk_store.LookupError)
		s.obs.StoreError(chunk_store.BackendPersistent, chunk_store.ErrorKind(chunk_store.ErrReadFailed))
		if chunk_store.IsTimeout(err) {
			err = errors.Join(chunk_store.ErrBackendUnavailable, err)
		}
		return nil, false, fmt.Errorf("%w: chunk %s: %w", chunk_store.ErrReadFailed, rec.ID, err)
	}

	s.obs.Lookup(chunk_store.BackendPersistent, chunk_store.LookupHit)
	return data, true, nil
}

func (s *PersistentChunkStore) Stats() chunk_store.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := chunk_store.StatsOf(chunk_store.BackendPersistent, s.cache, s.retention)
	st.Epoch, st.EpochSet = s.epoch, s.epochSet
	return st
}

// Close closes the metadata index. Blobs stay on disk until the next Init sweeps them.
func (s *PersistentChunkStore) Close() error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	return s.index.Close()
}

var _ chunk_store.ChunkStore = (*PersistentChunkStore)(nil)
