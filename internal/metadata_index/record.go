package metadata_index

import "github.com/AnishMulay/sandreplay/internal/chunk"

// Stripped returns the record without its payload bytes.
func Stripped(record chunk.ChunkRecord) chunk.ChunkRecord {
	record.Payload = nil
	return record
}
