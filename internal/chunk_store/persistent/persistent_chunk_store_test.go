package persistent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnishMulay/sandreplay/internal/blob_area"
	"github.com/AnishMulay/sandreplay/internal/blob_area/localdisc"
	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/chunk_store"
	"github.com/AnishMulay/sandreplay/internal/clock"
	"github.com/AnishMulay/sandreplay/internal/log_service/nop"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/inmemory"
	"github.com/AnishMulay/sandreplay/internal/metadata_index/sqlite"
)

// flakyBlobs wraps a blob area and fails selected operations.
type flakyBlobs struct {
	blob_area.BlobArea
	mu          sync.Mutex
	failWrites  int
	failDeletes bool
	block       bool
}

func (f *flakyBlobs) Write(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	fail, block := f.failWrites > 0, f.block
	if fail {
		f.failWrites--
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return blob_area.ErrBlobWriteFailed
	}
	return f.BlobArea.Write(ctx, name, data)
}

func (f *flakyBlobs) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	fail := f.failDeletes
	f.mu.Unlock()
	if fail {
		return blob_area.ErrBlobDeleteFailed
	}
	return f.BlobArea.Delete(ctx, name)
}

// flakyIndex fails the next failPuts Put calls.
type flakyIndex struct {
	metadata_index.MetadataIndex
	failPuts int
	failList bool
}

func (f *flakyIndex) Put(ctx context.Context, record chunk.ChunkRecord) error {
	if f.failPuts > 0 {
		f.failPuts--
		return metadata_index.ErrIndexWriteFailed
	}
	return f.MetadataIndex.Put(ctx, record)
}

func (f *flakyIndex) ListAll(ctx context.Context) ([]chunk.ChunkRecord, error) {
	if f.failList {
		return nil, metadata_index.ErrIndexUnavailable
	}
	return f.MetadataIndex.ListAll(ctx)
}

type harness struct {
	fake  clockwork.FakeClock
	now   float64
	fs    afero.Fs
	blobs *flakyBlobs
	index *flakyIndex
	store *PersistentChunkStore
}

func newHarness(t *testing.T, retention float64) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	ba, err := localdisc.NewBlobArea(fs, "/blobs", nop.New())
	require.NoError(t, err)

	h := &harness{
		fake:  clockwork.NewFakeClock(),
		fs:    fs,
		blobs: &flakyBlobs{BlobArea: ba},
		index: &flakyIndex{MetadataIndex: inmemory.NewInMemoryMetadataIndex()},
	}
	h.store = h.open(t, retention)
	return h
}

func (h *harness) open(t *testing.T, retention float64) *PersistentChunkStore {
	t.Helper()
	store, err := NewPersistentChunkStore(Options{
		RetentionSeconds: retention,
		IOTimeout:        200 * time.Millisecond,
		Clock:            clock.New(h.fake),
		Index:            h.index,
		Blobs:            h.blobs,
		Log:              nop.New(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func (h *harness) advanceTo(ts float64) {
	h.fake.Advance(time.Duration((ts - h.now) * float64(time.Second)))
	h.now = ts
}

func (h *harness) addAt(t *testing.T, ts float64) error {
	t.Helper()
	h.advanceTo(ts)
	return h.store.AddChunk(context.Background(), []byte(fmt.Sprintf("chunk@%g", ts)))
}

func (h *harness) cacheTimes() []float64 {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	out := make([]float64, len(h.store.cache))
	for i, r := range h.store.cache {
		out[i] = r.RelativeStartTime
	}
	return out
}

func (h *harness) blobNames(t *testing.T) []string {
	t.Helper()
	names, err := h.blobs.List(context.Background())
	require.NoError(t, err)
	return names
}

func (h *harness) indexBlobNames(t *testing.T) []string {
	t.Helper()
	records, err := h.index.ListAll(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.BlobName)
	}
	sort.Strings(names)
	return names
}

func TestNewPersistentChunkStore_InvalidOptions(t *testing.T) {
	_, err := NewPersistentChunkStore(Options{RetentionSeconds: 0})
	assert.ErrorIs(t, err, chunk_store.ErrInvalidOptions)

	_, err = NewPersistentChunkStore(Options{RetentionSeconds: 10})
	assert.ErrorIs(t, err, chunk_store.ErrInvalidOptions)
}

func TestPersistentChunkStore_RetentionScenario(t *testing.T) {
	h := newHarness(t, 4)
	for _, ts := range []float64{0, 1, 2, 3, 5} {
		require.NoError(t, h.addAt(t, ts))
	}

	assert.Equal(t, []float64{1, 2, 3, 5}, h.cacheTimes())
	assert.Len(t, h.blobNames(t), 4)
	assert.Equal(t, h.blobNames(t), h.indexBlobNames(t))

	_, ok, err := h.store.GetChunkForTime(context.Background(), 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistentChunkStore_FloorQuery(t *testing.T) {
	h := newHarness(t, 100)
	for _, ts := range []float64{0, 2, 4, 6} {
		require.NoError(t, h.addAt(t, ts))
	}

	tests := []struct {
		target float64
		want   string
		ok     bool
	}{
		{target: 5, want: "chunk@4", ok: true},
		{target: 1, want: "chunk@0", ok: true},
		{target: 6, want: "chunk@6", ok: true},
		{target: 7, ok: false},
		{target: -1, ok: false},
	}
	for _, tt := range tests {
		payload, ok, err := h.store.GetChunkForTime(context.Background(), tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.ok, ok, "target %v", tt.target)
		assert.Equal(t, tt.want, string(payload), "target %v", tt.target)
	}
}

func TestPersistentChunkStore_EmptyStore(t *testing.T) {
	h := newHarness(t, 10)
	for _, target := range []float64{-5, 0, 1, 600} {
		payload, ok, err := h.store.GetChunkForTime(context.Background(), target)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, payload)
	}
}

func TestPersistentChunkStore_RetentionBound(t *testing.T) {
	h := newHarness(t, 7)
	steps := []float64{0, 1.9, 2.1, 1.5, 3, 2, 2, 0.1, 4.4, 2.2, 1.8, 2.05, 6, 1, 2}
	ts := 0.0
	for _, step := range steps {
		ts += step
		require.NoError(t, h.addAt(t, ts))

		times := h.cacheTimes()
		require.NotEmpty(t, times)
		latest := times[len(times)-1]
		assert.InDelta(t, ts, latest, 1e-6)
		assert.IsNonDecreasing(t, times)
		for _, v := range times {
			assert.GreaterOrEqual(t, v, latest-7)
		}
		assert.Equal(t, h.blobNames(t), h.indexBlobNames(t))
		assert.Len(t, h.blobNames(t), len(times))
	}
}

func TestPersistentChunkStore_BlobWriteFailure(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.addAt(t, 0))

	h.blobs.failWrites = 1
	err := h.addAt(t, 2)
	assert.ErrorIs(t, err, chunk_store.ErrWriteFailed)

	require.NoError(t, h.addAt(t, 4))
	assert.Equal(t, []float64{0, 4}, h.cacheTimes())
	assert.Equal(t, h.blobNames(t), h.indexBlobNames(t))
}

func TestPersistentChunkStore_MetadataWriteFailureLeavesNoOrphan(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.addAt(t, 0))

	h.index.failPuts = 1
	err := h.addAt(t, 2)
	assert.ErrorIs(t, err, chunk_store.ErrWriteFailed)

	assert.Equal(t, []float64{0}, h.cacheTimes())
	assert.Len(t, h.blobNames(t), 1)
	assert.Equal(t, h.blobNames(t), h.indexBlobNames(t))
}

func TestPersistentChunkStore_WriteTimeout(t *testing.T) {
	h := newHarness(t, 10)
	h.blobs.block = true

	err := h.addAt(t, 0)
	assert.ErrorIs(t, err, chunk_store.ErrWriteFailed)
	assert.ErrorIs(t, err, chunk_store.ErrBackendUnavailable)
	assert.Empty(t, h.cacheTimes())
}

func TestPersistentChunkStore_ReadFailureIsNotAMiss(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.addAt(t, 0))
	require.NoError(t, h.addAt(t, 2))

	h.store.mu.RLock()
	victim := h.store.cache[0].BlobName
	h.store.mu.RUnlock()
	require.NoError(t, h.fs.Remove(filepath.Join("/blobs", victim)))

	payload, ok, err := h.store.GetChunkForTime(context.Background(), 1)
	assert.ErrorIs(t, err, chunk_store.ErrReadFailed)
	assert.False(t, ok)
	assert.Nil(t, payload)

	payload, ok, err = h.store.GetChunkForTime(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chunk@2", string(payload))
}

func TestPersistentChunkStore_EvictionIgnoresDeleteFailures(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.addAt(t, 0))

	h.blobs.failDeletes = true
	require.NoError(t, h.addAt(t, 5))

	assert.Equal(t, []float64{5}, h.cacheTimes())
	_, ok, err := h.store.GetChunkForTime(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// The undeleted blob is an orphan until the next sweep.
	assert.Len(t, h.blobNames(t), 2)
	h.blobs.failDeletes = false
	require.NoError(t, h.store.Init(context.Background()))
	assert.Equal(t, h.blobNames(t), h.indexBlobNames(t))
}

func TestPersistentChunkStore_InitReloadsWithinSession(t *testing.T) {
	h := newHarness(t, 100)
	for _, ts := range []float64{0, 2, 4} {
		require.NoError(t, h.addAt(t, ts))
	}
	before := h.store.Stats()

	require.NoError(t, h.store.Init(context.Background()))
	assert.Equal(t, before, h.store.Stats())
	assert.Equal(t, []float64{0, 2, 4}, h.cacheTimes())

	require.NoError(t, h.addAt(t, 6))
	payload, ok, err := h.store.GetChunkForTime(context.Background(), 6)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chunk@6", string(payload))
}

func TestPersistentChunkStore_InitReloadKeepsTieOrder(t *testing.T) {
	h := newHarness(t, 100)
	require.NoError(t, h.addAt(t, 1))
	require.NoError(t, h.store.AddChunk(context.Background(), []byte("second@1")))
	require.NoError(t, h.store.AddChunk(context.Background(), []byte("third@1")))

	require.NoError(t, h.store.Init(context.Background()))

	payload, ok, err := h.store.GetChunkForTime(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "third@1", string(payload))
}

func TestPersistentChunkStore_InitDiscardsPreviousSession(t *testing.T) {
	h := newHarness(t, 100)
	for _, ts := range []float64{0, 2, 4} {
		require.NoError(t, h.addAt(t, ts))
	}
	require.NoError(t, h.blobs.Write(context.Background(), "orphan.chunk", []byte("x")))

	next := h.open(t, 100)
	assert.Equal(t, 0, next.Stats().Count)
	assert.False(t, next.Stats().EpochSet)
	assert.Empty(t, h.blobNames(t))
	assert.Empty(t, h.indexBlobNames(t))
}

func TestPersistentChunkStore_InitUnavailable(t *testing.T) {
	h := newHarness(t, 10)
	h.index.failList = true
	err := h.store.Init(context.Background())
	assert.ErrorIs(t, err, chunk_store.ErrBackendUnavailable)
}

func TestPersistentChunkStore_UniqueIDs(t *testing.T) {
	h := newHarness(t, 1000)
	for i := 0; i < 50; i++ {
		require.NoError(t, h.addAt(t, float64(i)))
	}

	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	seen := make(map[string]bool)
	for _, r := range h.store.cache {
		assert.False(t, seen[r.ID], "id %s reused", r.ID)
		seen[r.ID] = true
		assert.Equal(t, BlobName(r.ID), r.BlobName)
	}
}

func TestPersistentChunkStore_ConcurrentLookups(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				st := h.store.Stats()
				if st.Count == 0 {
					continue
				}
				if _, _, err := h.store.GetChunkForTime(ctx, st.Oldest); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		require.NoError(t, h.addAt(t, float64(i)*0.5))
	}
	cancel()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestPersistentChunkStore_SQLiteOnDisk(t *testing.T) {
	dir := t.TempDir()
	index, err := sqlite.Open(filepath.Join(dir, "meta.db"), nop.New())
	require.NoError(t, err)
	blobs, err := localdisc.NewLocalDiscBlobArea(filepath.Join(dir, "blobs"), nop.New())
	require.NoError(t, err)

	fake := clockwork.NewFakeClock()
	store, err := NewPersistentChunkStore(Options{
		RetentionSeconds: 4,
		Clock:            clock.New(fake),
		Index:            index,
		Blobs:            blobs,
		Log:              nop.New(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	defer store.Close()

	prev := 0.0
	for _, ts := range []float64{0, 1, 2, 3, 5} {
		fake.Advance(time.Duration((ts - prev) * float64(time.Second)))
		prev = ts
		require.NoError(t, store.AddChunk(context.Background(), []byte(fmt.Sprintf("chunk@%g", ts))))
	}

	st := store.Stats()
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 1.0, st.Oldest)
	assert.Equal(t, 5.0, st.Newest)

	records, err := index.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 4)

	names, err := blobs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 4)

	payload, ok, err := store.GetChunkForTime(context.Background(), 4.9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chunk@3", string(payload))
}

// gatedFs blocks file opens while stall is set, regardless of any deadline.
type gatedFs struct {
	afero.Fs
	stall   *atomic.Bool
	release chan struct{}
}

func (g gatedFs) Open(name string) (afero.File, error) {
	if g.stall.Load() {
		<-g.release
	}
	return g.Fs.Open(name)
}

func (g gatedFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if g.stall.Load() {
		<-g.release
	}
	return g.Fs.OpenFile(name, flag, perm)
}

func TestPersistentChunkStore_StalledDiskTimesOut(t *testing.T) {
	fs := gatedFs{Fs: afero.NewMemMapFs(), stall: &atomic.Bool{}, release: make(chan struct{})}
	defer close(fs.release)

	ba, err := localdisc.NewBlobArea(fs, "/blobs", nop.New())
	require.NoError(t, err)

	fake := clockwork.NewFakeClock()
	store, err := NewPersistentChunkStore(Options{
		RetentionSeconds: 10,
		IOTimeout:        100 * time.Millisecond,
		Clock:            clock.New(fake),
		Index:            inmemory.NewInMemoryMetadataIndex(),
		Blobs:            ba,
		Log:              nop.New(),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.AddChunk(ctx, []byte("first")))

	fs.stall.Store(true)
	fake.Advance(2 * time.Second)

	start := time.Now()
	err = store.AddChunk(ctx, []byte("second"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, chunk_store.ErrWriteFailed)
	assert.ErrorIs(t, err, chunk_store.ErrBackendUnavailable)
	assert.Equal(t, "write_failed", chunk_store.ErrorKind(err))
	assert.Equal(t, 1, store.Stats().Count)

	start = time.Now()
	payload, ok, err := store.GetChunkForTime(ctx, 1)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, chunk_store.ErrReadFailed)
	assert.ErrorIs(t, err, chunk_store.ErrBackendUnavailable)
	assert.Equal(t, "read_failed", chunk_store.ErrorKind(err))
	assert.False(t, ok)
	assert.Nil(t, payload)
}
