// Package pebblestore stores chunk metadata in a Pebble LSM under the "chunk/" key prefix.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/AnishMulay/sandreplay/internal/chunk"
	"github.com/AnishMulay/sandreplay/internal/ioctx"
	"github.com/AnishMulay/sandreplay/internal/log_service"
	"github.com/AnishMulay/sandreplay/internal/metadata_index"
)

const keyPrefix = "chunk/"

type Options struct {
	DataDir string
	// Sync forces a WAL fsync on every write.
	Sync bool
}

type PebbleMetadataIndex struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	ls        log_service.LogService
}

// storedRecord is the persisted value layout.
type storedRecord struct {
	ID                string  `json:"id"`
	BlobName          string  `json:"blobName"`
	RelativeStartTime float64 `json:"relativeStartTime"`
	Seq               uint64  `json:"seq"`
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// prefixEnd is the exclusive upper bound of the key prefix.
func prefixEnd() []byte {
	end := []byte(keyPrefix)
	end[len(end)-1]++
	return end
}

func Open(opts Options, ls log_service.LogService) (*PebbleMetadataIndex, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: pebble: DataDir is required", metadata_index.ErrIndexUnavailable)
	}

	db, err := pebble.Open(opts.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: pebble open %s: %v", metadata_index.ErrIndexUnavailable, opts.DataDir, err)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}

	ls.Info(log_service.LogEvent{
		Message:  "Metadata index opened",
		Metadata: map[string]any{"backend": "pebble", "path": opts.DataDir},
	})

	return &PebbleMetadataIndex{db: db, writeOpts: writeOpts, ls: ls}, nil
}

// Put, Delete and ListAll return ctx.Err() once ctx ends, even while pebble
// is still blocked on I/O.
func (mi *PebbleMetadataIndex) Put(ctx context.Context, record chunk.ChunkRecord) error {
	return ioctx.Run(ctx, func() error { return mi.put(record) })
}

func (mi *PebbleMetadataIndex) put(record chunk.ChunkRecord) error {
	value, err := json.Marshal(storedRecord{
		ID:                record.ID,
		BlobName:          record.BlobName,
		RelativeStartTime: record.RelativeStartTime,
		Seq:               record.Seq,
	})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", metadata_index.ErrIndexWriteFailed, record.ID, err)
	}

	if err := mi.db.Set(key(record.ID), value, mi.writeOpts); err != nil {
		mi.ls.Error(log_service.LogEvent{
			Message:  "Failed to put metadata record",
			Metadata: map[string]any{"chunkID": record.ID, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexWriteFailed, err)
	}
	return nil
}

func (mi *PebbleMetadataIndex) Delete(ctx context.Context, id string) error {
	return ioctx.Run(ctx, func() error { return mi.delete(id) })
}

func (mi *PebbleMetadataIndex) delete(id string) error {
	// Pebble deletes are blind; look the key up first so a missing id is reported.
	_, closer, err := mi.db.Get(key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return metadata_index.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
	}
	closer.Close()

	if err := mi.db.Delete(key(id), mi.writeOpts); err != nil {
		return fmt.Errorf("%w: %w", metadata_index.ErrIndexWriteFailed, err)
	}
	return nil
}

func (mi *PebbleMetadataIndex) ListAll(ctx context.Context) ([]chunk.ChunkRecord, error) {
	return ioctx.Do(ctx, mi.listAll)
}

func (mi *PebbleMetadataIndex) listAll() ([]chunk.ChunkRecord, error) {
	iter, err := mi.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: prefixEnd(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
	}
	defer iter.Close()

	var records []chunk.ChunkRecord
	for ok := iter.First(); ok; ok = iter.Next() {
		var sr storedRecord
		if err := json.Unmarshal(iter.Value(), &sr); err != nil {
			return nil, fmt.Errorf("%w: decode %q: %w", metadata_index.ErrIndexReadFailed, iter.Key(), err)
		}
		records = append(records, chunk.ChunkRecord{
			ID:                sr.ID,
			BlobName:          sr.BlobName,
			RelativeStartTime: sr.RelativeStartTime,
			Seq:               sr.Seq,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", metadata_index.ErrIndexReadFailed, err)
	}
	return records, nil
}

func (mi *PebbleMetadataIndex) Close() error {
	if mi == nil || mi.db == nil {
		return nil
	}
	err := mi.db.Close()
	mi.db = nil
	return err
}

var _ metadata_index.MetadataIndex = (*PebbleMetadataIndex)(nil)
