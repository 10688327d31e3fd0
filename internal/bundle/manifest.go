// Package bundle implements the self-describing ZIP export container: a
// manifest.json listing every artifact with its SHA-256, plus a manifest
// self-checksum covering every field except the file list itself.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the current bundle manifest schema version.
const SchemaVersion = "1.0.0"

// ManifestFileName is the required first entry of every bundle ZIP.
const ManifestFileName = "manifest.json"

// ExportProfile is the redaction preset used when producing this bundle.
type ExportProfile string

const (
	ProfileMinimal  ExportProfile = "minimal"
	ProfileSafe     ExportProfile = "safe"
	ProfileForensic ExportProfile = "forensic"
)

// FileEntry describes one artifact inside the bundle other than
// manifest.json itself.
type FileEntry struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Bytes    int64  `json:"bytes"`
	MimeType string `json:"mime_type,omitempty"`
}

// ComputeChecksum returns the lowercase hex SHA-256 of data.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data's SHA-256 matches this entry's recorded
// checksum.
func (f FileEntry) Verify(data []byte) bool {
	return ComputeChecksum(data) == f.SHA256
}

// Manifest is the bundle's manifest.json payload.
type Manifest struct {
	BundleVersion          string      `json:"bundle_version"`
	SchemaVersion          string      `json:"schema_version"`
	CreatedAt              time.Time   `json:"created_at"`
	HostID                 string      `json:"host_id"`
	SessionID              string      `json:"session_id"`
	ExportProfile          ExportProfile `json:"export_profile"`
	RedactionPolicyVersion string      `json:"redaction_policy_version"`
	RedactionPolicyHash    string      `json:"redaction_policy_hash"`
	Description            string      `json:"description,omitempty"`
	PTVersion              string      `json:"pt_version,omitempty"`
	SelfChecksum           string      `json:"self_checksum"`
	Files                  []FileEntry `json:"files"`
}

// New builds a Manifest with BundleVersion/SchemaVersion set to the
// current constants and CreatedAt set to now.
func New(hostID, sessionID string, profile ExportProfile, policyVersion, policyHash string) Manifest {
	return Manifest{
		BundleVersion:          SchemaVersion,
		SchemaVersion:          SchemaVersion,
		CreatedAt:              time.Now().UTC(),
		HostID:                 hostID,
		SessionID:              sessionID,
		ExportProfile:          profile,
		RedactionPolicyVersion: policyVersion,
		RedactionPolicyHash:    policyHash,
	}
}

// WithDescription sets an optional human-readable description.
func (m Manifest) WithDescription(d string) Manifest { m.Description = d; return m }

// WithPTVersion sets the version of this engine that produced the bundle.
func (m Manifest) WithPTVersion(v string) Manifest { m.PTVersion = v; return m }

// AddFile appends a FileEntry and returns the updated manifest.
func (m Manifest) AddFile(f FileEntry) Manifest {
	m.Files = append(m.Files, f)
	return m
}

// TotalBytes sums the Bytes field across every file entry.
func (m Manifest) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Bytes
	}
	return total
}

// FileCount returns len(m.Files).
func (m Manifest) FileCount() int { return len(m.Files) }

// FindFile returns the FileEntry with the given path, if present.
func (m Manifest) FindFile(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// SortFiles orders Files by Path for deterministic manifest output.
func (m Manifest) SortFiles() Manifest {
	files := append([]FileEntry(nil), m.Files...)
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].Path < files[j-1].Path; j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
	m.Files = files
	return m
}

// ComputeSelfChecksum hashes every field of the manifest except Files
// (SelfChecksum itself is cleared before hashing). This matches the
// reference manifest's compute_self_checksum, which builds a JSON object
// of every field but the file list.
func (m Manifest) ComputeSelfChecksum() (string, error) {
	m.SelfChecksum = ""
	m.Files = nil
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("bundle: marshal manifest for self-checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the manifest's self-checksum. ComputeSelfChecksum
// has a value receiver, so clearing Files inside it never affects m here.
func (m Manifest) Seal() (Manifest, error) {
	checksum, err := m.ComputeSelfChecksum()
	if err != nil {
		return Manifest{}, err
	}
	m.SelfChecksum = checksum
	return m, nil
}

// Validate checks the structural invariants the original bundle validator
// enforces before a manifest is trusted.
func (m Manifest) Validate() error {
	if m.BundleVersion != SchemaVersion {
		return fmt.Errorf("bundle: unsupported bundle_version %q, want %q", m.BundleVersion, SchemaVersion)
	}
	if m.SessionID == "" || m.HostID == "" {
		return fmt.Errorf("bundle: corrupted manifest: session_id and host_id must be non-empty")
	}
	for _, f := range m.Files {
		if len(f.SHA256) != 64 {
			return fmt.Errorf("bundle: corrupted manifest: file %q has a %d-char sha256, want 64", f.Path, len(f.SHA256))
		}
	}
	return nil
}
