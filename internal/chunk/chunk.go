package chunk

// ChunkRecord describes one stored chunk. Records are immutable once created.
type ChunkRecord struct {
	ID string
	// RelativeStartTime is seconds since the owning store's epoch.
	RelativeStartTime float64
	// Seq is the per-store insertion counter; it breaks ties between equal start times.
	Seq uint64
	// BlobName references the payload in a blob area (persistent backend).
	BlobName string
	// Payload holds the bytes directly (volatile backend).
	Payload []byte
}

// Less orders records by start time, then by insertion.
func Less(a, b ChunkRecord) bool {
	if a.RelativeStartTime != b.RelativeStartTime {
		return a.RelativeStartTime < b.RelativeStartTime
	}
	return a.Seq < b.Seq
}

// Compare is Less in three-way form for slices.SortFunc style helpers.
func Compare(a, b ChunkRecord) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}
