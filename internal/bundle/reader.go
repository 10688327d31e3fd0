package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
)

// Reader reads a sealed bundle ZIP, enforcing the structural invariants
// from §4.11: manifest present and schema-compatible, SHA-256 fields are
// 64 hex chars, session_id/host_id non-empty.
type Reader struct {
	zr       *zip.ReadCloser
	Manifest Manifest
}

// Open opens the ZIP at path, reads and validates manifest.json.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %q: %w", path, err)
	}
	r := &Reader{zr: zr}

	data, err := r.readRaw(ManifestFileName)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("bundle: %q missing or unreadable: %w", ManifestFileName, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("bundle: parse %q: %w", ManifestFileName, err)
	}
	if err := m.Validate(); err != nil {
		_ = zr.Close()
		return nil, err
	}
	r.Manifest = m
	return r, nil
}

func (r *Reader) readRaw(path string) ([]byte, error) {
	for _, f := range r.zr.File {
		if f.Name != path {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("bundle: no such entry %q", path)
}

// ReadVerified reads the artifact at path and recomputes its SHA-256,
// erroring if it does not match the manifest's recorded checksum.
func (r *Reader) ReadVerified(path string) ([]byte, error) {
	entry, ok := r.Manifest.FindFile(path)
	if !ok {
		return nil, fmt.Errorf("bundle: %q is not listed in the manifest", path)
	}
	data, err := r.readRaw(path)
	if err != nil {
		return nil, err
	}
	if !entry.Verify(data) {
		return nil, fmt.Errorf("bundle: checksum mismatch for %q", path)
	}
	return data, nil
}

// Close releases the underlying ZIP file handle.
func (r *Reader) Close() error {
	return r.zr.Close()
}
