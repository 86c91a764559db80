package blob_area

import "errors"

var (
	ErrBlobAreaUnavailable = errors.New("blob area unavailable")
	ErrBlobWriteFailed     = errors.New("failed to write blob")
	ErrBlobReadFailed      = errors.New("failed to read blob")
	ErrBlobDeleteFailed    = errors.New("failed to delete blob")
	ErrBlobNotFound        = errors.New("blob not found")
	ErrInvalidBlobName     = errors.New("invalid blob name")
)
