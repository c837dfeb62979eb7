// Package model defines the data shapes shared by the download engine,
// the resumable-state protocol, and the scheduler.
package model

import (
	"fmt"
	"time"
)

// MinSegmentBytes is the smallest a segment may be before the planner
// collapses a file down to a single segment.
const MinSegmentBytes int64 = 1 << 20

// MaxSegments bounds how many concurrent range requests one file may use.
const MaxSegments = 32

// DownloadItem is one line of a task list: a remote resource and,
// optionally, the digest it is expected to hash to once complete.
type DownloadItem struct {
	URL            string
	Destination    string
	ExpectedDigest string // hex-encoded SHA-256, empty if not pinned
}

// Segment is one contiguous byte range of a file, inclusive on both ends.
type Segment struct {
	Index int
	Start int64
	End   int64
}

// Size returns the number of bytes the segment covers.
func (s Segment) Size() int64 {
	return s.End - s.Start + 1
}

// SegmentPlan is the set of ranges a FileDownloader splits a transfer into.
type SegmentPlan struct {
	TotalSize int64
	Segments  []Segment
}

// NewSegmentPlan divides totalSize into min(configuredSplit,
// max(1, ceil(totalSize/MinSegmentBytes))) equal segments, with the final
// segment absorbing any remainder. A file of at most MinSegmentBytes is
// always a single segment; larger files may get segments somewhat smaller
// than MinSegmentBytes.
func NewSegmentPlan(totalSize int64, configuredSplit int) SegmentPlan {
	if totalSize <= 0 {
		return SegmentPlan{TotalSize: totalSize, Segments: []Segment{{Index: 0, Start: 0, End: -1}}}
	}
	if configuredSplit < 1 {
		configuredSplit = 1
	}
	if configuredSplit > MaxSegments {
		configuredSplit = MaxSegments
	}

	maxBySize := int((totalSize + MinSegmentBytes - 1) / MinSegmentBytes)
	if maxBySize < 1 {
		maxBySize = 1
	}
	n := configuredSplit
	if n > maxBySize {
		n = maxBySize
	}

	segSize := totalSize / int64(n)
	segments := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * segSize
		end := start + segSize - 1
		if i == n-1 {
			end = totalSize - 1
		}
		segments = append(segments, Segment{Index: i, Start: start, End: end})
	}
	return SegmentPlan{TotalSize: totalSize, Segments: segments}
}

// SegmentState is the persisted progress of one segment. BytesWritten is
// always relative to Start: the next byte to request is Start+BytesWritten.
type SegmentState struct {
	Index        int   `json:"index"`
	Start        int64 `json:"start"`
	End          int64 `json:"end"`
	BytesWritten int64 `json:"bytes_written"`
	Done         bool  `json:"done"`
}

// Remaining returns how many bytes of this segment are still unfetched.
func (s SegmentState) Remaining() int64 {
	total := s.End - s.Start + 1
	r := total - s.BytesWritten
	if r < 0 {
		return 0
	}
	return r
}

// Validate enforces the segment invariants: 0 <= BytesWritten <= size, and
// Done implies BytesWritten covers the whole range.
func (s SegmentState) Validate() error {
	size := s.End - s.Start + 1
	if size < 0 {
		return fmt.Errorf("segment %d: end %d before start %d", s.Index, s.End, s.Start)
	}
	if s.BytesWritten < 0 || s.BytesWritten > size {
		return fmt.Errorf("segment %d: bytes_written %d out of range [0,%d]", s.Index, s.BytesWritten, size)
	}
	if s.Done && s.BytesWritten != size {
		return fmt.Errorf("segment %d: marked done with %d/%d bytes written", s.Index, s.BytesWritten, size)
	}
	return nil
}

// DownloadState is the sidecar's payload: everything needed to resume a
// file without re-probing the source, plus a validator to detect that the
// source changed underneath it.
type DownloadState struct {
	URL             string         `json:"url"`
	TotalSize       int64          `json:"total_size"`
	SegmentSizeHint int64          `json:"segment_size_hint"`
	Segments        []SegmentState `json:"segments"`
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	SourceValidator string         `json:"source_validator,omitempty"`
	// Rangeless marks a state degraded to a single unranged GET because the
	// origin does not honor byte ranges. Its lone segment is fetched with a
	// plain request rather than a Range header, so it has no resume point.
	Rangeless bool `json:"rangeless,omitempty"`
}

// Complete reports whether every segment has been fully written.
func (d DownloadState) Complete() bool {
	if len(d.Segments) == 0 {
		return false
	}
	for _, s := range d.Segments {
		if !s.Done {
			return false
		}
	}
	return true
}

// Progress returns bytes written against TotalSize, in [0,1].
func (d DownloadState) Progress() float64 {
	if d.TotalSize <= 0 {
		return 0
	}
	var written int64
	for _, s := range d.Segments {
		written += s.BytesWritten
	}
	return float64(written) / float64(d.TotalSize)
}
