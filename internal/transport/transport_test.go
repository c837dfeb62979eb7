package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gridfetch/internal/xerrors"
)

func TestProbeReportsSizeAndRangeSupport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	probe, err := tr.Probe(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if probe.Size != 2048 || !probe.AcceptsRanges || probe.Validator != `"abc123"` {
		t.Fatalf("unexpected probe: %+v", probe)
	}
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/500")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	probe, err := tr.Probe(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if probe.Size != 500 || !probe.AcceptsRanges {
		t.Fatalf("unexpected probe: %+v", probe)
	}
}

func TestOpenRangeReturnsPartialContent(t *testing.T) {
	body := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 2-4/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[2:5]))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := tr.OpenRange(t.Context(), srv.URL, 2, 4)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "234" {
		t.Fatalf("got %q, want %q", data, "234")
	}
}

func TestOpenRangeClassifiesIgnoredRangeAsUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("whole file"))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tr.OpenRange(t.Context(), srv.URL, 0, 3)
	if xerrors.KindOf(err) != xerrors.RangeUnsupported {
		t.Fatalf("expected RangeUnsupported, got %v (%v)", xerrors.KindOf(err), err)
	}
}

func TestOpenRangeClassifies404AsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tr.OpenRange(t.Context(), srv.URL, 0, 3)
	if xerrors.KindOf(err) != xerrors.Permanent {
		t.Fatalf("expected Permanent, got %v", xerrors.KindOf(err))
	}
}

func TestOpenRangeClassifies500AsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tr.OpenRange(t.Context(), srv.URL, 0, 3)
	if xerrors.KindOf(err) != xerrors.Transient {
		t.Fatalf("expected Transient, got %v", xerrors.KindOf(err))
	}
}
