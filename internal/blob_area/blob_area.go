// Package blob_area stores named byte buffers, one per chunk.
package blob_area

import "context"

type BlobArea interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	// Delete is idempotent: removing a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all stored blobs.
	List(ctx context.Context) ([]string, error)
}
