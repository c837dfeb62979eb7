// Package xerrors defines the error taxonomy used across the download
// engine: every failure a worker or FileDownloader can raise is classified
// into one of a small set of kinds, so retry and summary logic can switch
// on Kind instead of matching error strings.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a download failure.
type Kind int

const (
	// Transient is a failure expected to clear on its own: a timeout, a
	// reset connection, a 5xx response.
	Transient Kind = iota
	// RangeUnsupported means the origin answered a ranged request with a
	// full 200 instead of 206, or rejected Range entirely.
	RangeUnsupported
	// SourceChanged means the remote resource no longer matches the plan it
	// is being fetched against: a ranged request inside the planned size
	// came back 416 Range Not Satisfiable.
	SourceChanged
	// Permanent is a failure retrying will not fix: 404, 403, malformed URL.
	Permanent
	// IO is a local filesystem failure: out of space, permission denied.
	IO
	// HashMismatch means the finished file's digest did not match the
	// expected one.
	HashMismatch
	// HashRequired means verification mode is "required" but no digest was
	// available to check against.
	HashRequired
	// Cancelled means the operation stopped because its context was
	// cancelled or the scheduler was told to cancel.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RangeUnsupported:
		return "range_unsupported"
	case SourceChanged:
		return "source_changed"
	case Permanent:
		return "permanent"
	case IO:
		return "io"
	case HashMismatch:
		return "hash_mismatch"
	case HashRequired:
		return "hash_required"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadError wraps a failure with its Kind plus enough context to log or
// report without re-deriving it from the wrapped error's text.
type DownloadError struct {
	Kind    Kind
	URL     string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.URL)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsRetryable reports whether a SegmentWorker should retry after this
// error, rather than surface it to the FileDownloader.
func (e *DownloadError) IsRetryable() bool {
	switch e.Kind {
	case Transient:
		return true
	default:
		return false
	}
}

// New constructs a DownloadError of the given kind.
func New(kind Kind, url, message string, cause error) *DownloadError {
	return &DownloadError{Kind: kind, URL: url, Message: message, Err: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *DownloadError,
// defaulting to Transient so unrecognized errors still get a bounded number
// of retries rather than none.
func KindOf(err error) Kind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return Transient
}
