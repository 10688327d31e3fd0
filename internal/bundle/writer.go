package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
)

// Artifact is one file to be written into the bundle alongside its
// manifest entry metadata.
type Artifact struct {
	Path     string
	Data     []byte
	MimeType string
}

// Write builds a ZIP at outPath containing manifest.json first, followed
// by every artifact in the order given, each covered by a FileEntry in the
// sealed manifest.
func Write(outPath string, base Manifest, artifacts []Artifact) (Manifest, error) {
	sealed := base
	sealed.Files = nil
	for _, a := range artifacts {
		sealed = sealed.AddFile(FileEntry{
			Path:     a.Path,
			SHA256:   ComputeChecksum(a.Data),
			Bytes:    int64(len(a.Data)),
			MimeType: a.MimeType,
		})
	}
	sealed = sealed.SortFiles()
	sealed, err := sealed.Seal()
	if err != nil {
		return Manifest{}, err
	}

	manifestJSON, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("bundle: marshal manifest: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("bundle: create %q: %w", outPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	if err := writeDeflated(zw, ManifestFileName, manifestJSON); err != nil {
		return Manifest{}, err
	}
	for _, a := range artifacts {
		if err := writeDeflated(zw, a.Path, a.Data); err != nil {
			return Manifest{}, err
		}
	}

	if err := zw.Close(); err != nil {
		return Manifest{}, fmt.Errorf("bundle: finalize zip %q: %w", outPath, err)
	}
	return sealed, nil
}

func writeDeflated(zw *zip.Writer, path string, data []byte) error {
	hdr := &zip.FileHeader{Name: path, Method: zip.Deflate}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("bundle: create entry %q: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("bundle: write entry %q: %w", path, err)
	}
	return nil
}
