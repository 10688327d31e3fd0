package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// BreakType classifies why the hash chain broke at a given line.
type BreakType string

const (
	BreakChainMismatch BreakType = "chain_mismatch"
	BreakMissingEntry  BreakType = "missing_entry"
	BreakTruncated     BreakType = "truncated"
	BreakInvalidGenesis BreakType = "invalid_genesis"
)

// BrokenLink is the first chain-continuity failure found, if any. The
// verifier stops reporting further breaks once one is found (but keeps
// scanning for tampered_entries, which is an orthogonal check).
type BrokenLink struct {
	Line      int       `json:"line"`
	Expected  string    `json:"expected"`
	Actual    string    `json:"actual"`
	BreakType BreakType `json:"break_type"`
}

// TamperedEntry records a line whose recomputed hash does not match its
// stored entry_hash — i.e. some field of the entry was modified in place
// without updating entry_hash.
type TamperedEntry struct {
	Line int `json:"line"`
}

// Report is the full result of verifying one audit log file.
type Report struct {
	IsValid         bool             `json:"is_valid"`
	EntriesVerified int              `json:"entries_verified"`
	StateHash       string           `json:"state_hash"`
	BrokenLink      *BrokenLink      `json:"broken_link,omitempty"`
	TamperedEntries []TamperedEntry  `json:"tampered_entries"`
	Warnings        []string         `json:"warnings,omitempty"`
	Entries         []Entry          `json:"-"` // parsed entries, for chain-state restoration by Open
}

// Verify reads path line by line, checking that every entry's prev_hash
// matches the prior entry's entry_hash (entry 0 must carry GenesisHash),
// and that every entry's stored entry_hash matches its recomputed hash.
// Schema version mismatches are recorded as warnings, never failures.
func Verify(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("audit: open %q: %w", path, err)
	}
	defer f.Close()

	report := Report{IsValid: true}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var entryHashes []string
	lineNo := 0
	var expectedPrev = GenesisHash

	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			if report.BrokenLink == nil {
				report.BrokenLink = &BrokenLink{Line: lineNo, BreakType: BreakTruncated}
				report.IsValid = false
			}
			continue
		}

		if e.SchemaVersion != SchemaVersion {
			report.Warnings = append(report.Warnings, fmt.Sprintf("line %d: schema_version %q does not match %q", lineNo, e.SchemaVersion, SchemaVersion))
		}

		if lineNo == 1 && e.PrevHash != GenesisHash {
			if report.BrokenLink == nil {
				report.BrokenLink = &BrokenLink{Line: lineNo, Expected: GenesisHash, Actual: e.PrevHash, BreakType: BreakInvalidGenesis}
				report.IsValid = false
			}
		} else if e.PrevHash != expectedPrev {
			if report.BrokenLink == nil {
				report.BrokenLink = &BrokenLink{Line: lineNo, Expected: expectedPrev, Actual: e.PrevHash, BreakType: BreakChainMismatch}
				report.IsValid = false
			}
		}

		recomputed, err := e.computeHash()
		if err != nil || recomputed != e.EntryHash {
			report.TamperedEntries = append(report.TamperedEntries, TamperedEntry{Line: lineNo})
			report.IsValid = false
		}

		entryHashes = append(entryHashes, e.EntryHash)
		expectedPrev = e.EntryHash
		report.Entries = append(report.Entries, e)
		report.EntriesVerified++
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("audit: scan %q: %w", path, err)
	}

	report.StateHash = stateHash(entryHashes)
	return report, nil
}
