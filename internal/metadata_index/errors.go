package metadata_index

import "errors"

var (
	ErrIndexUnavailable = errors.New("metadata index unavailable")
	ErrIndexWriteFailed = errors.New("metadata index write failed")
	ErrIndexReadFailed  = errors.New("metadata index read failed")
	ErrRecordNotFound   = errors.New("metadata record not found")
)
