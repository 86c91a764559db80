package chunk_store

import (
	"context"
	"errors"
)

var (
	ErrBackendUnavailable = errors.New("chunk store backend unavailable")
	ErrWriteFailed        = errors.New("chunk write failed")
	ErrReadFailed         = errors.New("chunk read failed")
	ErrInvalidOptions     = errors.New("invalid chunk store options")
)

// ErrorKind names the store error class of err for logs and metrics. A failed
// operation that also carries ErrBackendUnavailable keeps its operation kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ErrReadFailed):
		return "read_failed"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "unknown"
	}
}

// IsTimeout reports whether err came from an expired adapter deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
