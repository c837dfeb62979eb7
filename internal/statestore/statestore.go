// Package statestore persists and recovers DownloadState sidecars.
//
// The teacher's SaveResumeMetadata wrote straight to the destination path
// with os.WriteFile, which can leave a half-written sidecar behind a crash
// mid-write. This store instead writes to a temp file in the same
// directory, fsyncs it, and renames it over the destination — rename is
// atomic on the same filesystem, so a reader never observes a partial
// sidecar.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gridfetch/internal/model"
)

// SidecarExt is appended to a destination path to name its state file.
const SidecarExt = ".part.json"
const PartExt = ".part"

// Store reads and writes DownloadState sidecars for a given destination.
type Store struct{}

// New returns a Store.
func New() *Store { return &Store{} }

// SidecarPath returns the sidecar path for a destination file.
func SidecarPath(destination string) string { return destination + SidecarExt }

// PartPath returns the in-progress payload path for a destination file.
func PartPath(destination string) string { return destination + PartExt }

// Save atomically writes state to destination's sidecar.
func (s *Store) Save(destination string, state model.DownloadState) error {
	path := SidecarPath(destination)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp sidecar: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename sidecar into place: %w", err)
	}
	return nil
}

// Load reads destination's sidecar. Any read or parse failure — missing
// file, truncated JSON, an invalid segment — is reported back as "no
// usable sidecar" via the boolean rather than an error: per spec, a
// corrupt or absent sidecar means start fresh, not fail the download.
func (s *Store) Load(destination string) (model.DownloadState, bool) {
	data, err := os.ReadFile(SidecarPath(destination))
	if err != nil {
		return model.DownloadState{}, false
	}
	var state model.DownloadState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.DownloadState{}, false
	}
	if state.URL == "" || state.TotalSize <= 0 || len(state.Segments) == 0 {
		return model.DownloadState{}, false
	}
	for _, seg := range state.Segments {
		if seg.Validate() != nil {
			return model.DownloadState{}, false
		}
	}
	return state, true
}

// Remove deletes destination's sidecar and part file, ignoring a
// not-exist error since cleanup is idempotent.
func (s *Store) Remove(destination string) error {
	if err := os.Remove(SidecarPath(destination)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	if err := os.Remove(PartPath(destination)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove part file: %w", err)
	}
	return nil
}
