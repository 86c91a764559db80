package chunk_store

import (
	"golang.org/x/exp/slices"

	"github.com/AnishMulay/sandreplay/internal/chunk"
)

// Floor returns the index of the record with the greatest RelativeStartTime
// not exceeding target, or -1 when records is empty or target lies outside
// [oldest, newest]. Records must be sorted by chunk.Less.
func Floor(records []chunk.ChunkRecord, target float64) int {
	n := len(records)
	if n == 0 {
		return -1
	}
	if target < records[0].RelativeStartTime || target > records[n-1].RelativeStartTime {
		return -1
	}

	// First index whose start time exceeds target; ties resolve to the last inserted.
	i, _ := slices.BinarySearchFunc(records, target, func(r chunk.ChunkRecord, t float64) int {
		if r.RelativeStartTime <= t {
			return -1
		}
		return 1
	})
	return i - 1
}

// CutoffIndex returns how many leading records start strictly before cutoff.
func CutoffIndex(records []chunk.ChunkRecord, cutoff float64) int {
	i, _ := slices.BinarySearchFunc(records, cutoff, func(r chunk.ChunkRecord, c float64) int {
		if r.RelativeStartTime < c {
			return -1
		}
		return 1
	})
	return i
}

// SortRecords restores insertion order for records loaded out of order.
func SortRecords(records []chunk.ChunkRecord) {
	slices.SortStableFunc(records, chunk.Compare)
}

// StatsOf summarizes sorted records.
func StatsOf(backend string, records []chunk.ChunkRecord, retention float64) Stats {
	s := Stats{
		Backend:          backend,
		Count:            len(records),
		RetentionSeconds: retention,
	}
	if len(records) > 0 {
		s.Oldest = records[0].RelativeStartTime
		s.Newest = records[len(records)-1].RelativeStartTime
	}
	return s
}
