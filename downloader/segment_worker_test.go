package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"gridfetch/internal/lifecycle"
	"gridfetch/internal/model"
	"gridfetch/internal/ratelimit"
	"gridfetch/internal/transport"
	"gridfetch/internal/xerrors"
)

func segmentServer(t *testing.T, body []byte, failFirstN *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failFirstN != nil && atomic.AddInt32(failFirstN, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rng := r.Header.Get("Range")
		var start, end int
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func newWorker(t *testing.T, maxRetries int) *SegmentWorker {
	t.Helper()
	tr, err := transport.New(transport.Config{})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	return NewSegmentWorker(tr, ratelimit.New(0), maxRetries)
}

func TestSegmentWorkerDownloadsFullRange(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	srv := segmentServer(t, body, nil)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	w := newWorker(t, 2)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1)}
	result := w.Run(t.Context(), srv.URL, partPath, seg, lifecycle.NewGate(), nil)
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}
	if result.BytesWritten != int64(len(body)) {
		t.Fatalf("got %d bytes, want %d", result.BytesWritten, len(body))
	}

	got, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

func TestSegmentWorkerResumesPartialBytesWritten(t *testing.T) {
	body := []byte("0123456789")
	srv := segmentServer(t, body, nil)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, []byte("01234-----"), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	w := newWorker(t, 1)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1), BytesWritten: 5}
	result := w.Run(t.Context(), srv.URL, partPath, seg, lifecycle.NewGate(), nil)
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}

	got, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

func TestSegmentWorkerRetriesTransientFailure(t *testing.T) {
	body := []byte("retry me please")
	failures := int32(2)
	srv := segmentServer(t, body, &failures)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	w := newWorker(t, 3)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1)}
	result := w.Run(t.Context(), srv.URL, partPath, seg, lifecycle.NewGate(), nil)
	if result.Err != nil {
		t.Fatalf("Run after retries: %v", result.Err)
	}
}

func TestSegmentWorkerTruncatedBodyIsTransient(t *testing.T) {
	// The server claims the requested range is satisfied (Content-Range
	// covers the full end offset) but its Content-Length, and the bytes it
	// actually writes, fall short of that — a clean io.EOF arrives with
	// total < maxBytes, which must surface as Transient rather than silently
	// completing the segment (spec section on stream-end-before-range-length).
	body := []byte("0123456789")
	const shortBy = 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if end >= len(body) {
			end = len(body) - 1
		}
		truncatedEnd := end - shortBy
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", strconv.Itoa(truncatedEnd-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : truncatedEnd+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	w := newWorker(t, 0)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1)}
	result := w.Run(t.Context(), srv.URL, partPath, seg, lifecycle.NewGate(), nil)
	if result.Err == nil {
		t.Fatalf("expected error for truncated body, got success with %d bytes", result.BytesWritten)
	}
	if xerrors.KindOf(result.Err) != xerrors.Transient {
		t.Fatalf("expected Transient kind, got %v", xerrors.KindOf(result.Err))
	}
	if result.BytesWritten != int64(len(body)-shortBy) {
		t.Fatalf("got %d bytes written, want %d", result.BytesWritten, len(body)-shortBy)
	}
}

func TestSegmentWorkerGivesUpAfterMaxRetries(t *testing.T) {
	body := []byte("never succeeds")
	failures := int32(100)
	srv := segmentServer(t, body, &failures)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	w := newWorker(t, 1)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1)}
	result := w.Run(t.Context(), srv.URL, partPath, seg, lifecycle.NewGate(), nil)
	if result.Err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if xerrors.KindOf(result.Err) != xerrors.Transient {
		t.Fatalf("expected Transient kind, got %v", xerrors.KindOf(result.Err))
	}
}

func TestSegmentWorkerHonorsPauseGate(t *testing.T) {
	body := make([]byte, 256*1024)
	srv := segmentServer(t, body, nil)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "file.part")
	if err := os.WriteFile(partPath, make([]byte, len(body)), 0644); err != nil {
		t.Fatalf("seed part file: %v", err)
	}

	gate := lifecycle.NewGate()
	gate.Pause()

	w := newWorker(t, 0)
	seg := model.SegmentState{Index: 0, Start: 0, End: int64(len(body) - 1)}

	done := make(chan SegmentResult, 1)
	go func() {
		done <- w.Run(t.Context(), srv.URL, partPath, seg, gate, nil)
	}()

	gate.Resume()

	result := <-done
	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}
}
