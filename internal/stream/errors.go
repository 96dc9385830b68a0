package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest covers malformed identifiers and parameters that
	// never reach the upstream (HTTP 400).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrHashMismatch means the resolved file's fingerprint disagrees with
	// the one embedded in the request id. Never retried.
	ErrHashMismatch = errors.New("file hash mismatch")
)

// RangeNotSatisfiableError maps to HTTP 416. The Content-Range hint is part
// of the error payload so the adapter can echo it without recomputing.
type RangeNotSatisfiableError struct {
	Header string
	Size   int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for size %d", e.Header, e.Size)
}

// ContentRange returns the `bytes */<size>` hint required on 416 responses.
func (e *RangeNotSatisfiableError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

// UpstreamError wraps a chunk-fetch failure that survived the source's local
// retry policy. Position is the byte offset of the failed fetch.
type UpstreamError struct {
	Position int64
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failure at offset %d: %v", e.Position, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
