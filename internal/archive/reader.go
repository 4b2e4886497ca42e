package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lazypower/persona/internal/store"
)

// VerifyReport is the result of re-reading a segment against its
// manifest and checksum.
type VerifyReport struct {
	OK             bool   `json:"ok"`
	SegmentKey     string `json:"segmentKey"`
	Checksum       string `json:"checksum"`
	File           string `json:"file"`
	ManifestCount  int    `json:"manifestCount"`
	FoundCount     int    `json:"foundCount"`
	MalformedLines int    `json:"malformedLines"`
}

// VerifySegment re-reads a segment: the checksum is recomputed from the
// stored manifest (a mismatch is ErrIntegrity — the data exists but is
// damaged, distinct from a missing file), then the JSONL file is scanned.
// Malformed lines are skipped and counted, never fatal. The member count
// is cross-checked against the manifest.
func VerifySegment(db *store.DB, segmentKey string) (*VerifyReport, error) {
	seg, err := db.GetSegment(segmentKey)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, fmt.Errorf("segment %s not found", segmentKey)
	}

	report := &VerifyReport{SegmentKey: segmentKey, Checksum: seg.Checksum}

	if Checksum([]byte(seg.PayloadJSON)) != seg.Checksum {
		return report, fmt.Errorf("segment %s manifest: %w", segmentKey, store.ErrIntegrity)
	}

	var manifest Manifest
	if err := json.Unmarshal([]byte(seg.PayloadJSON), &manifest); err != nil {
		return report, fmt.Errorf("segment %s manifest: %w", segmentKey, store.ErrIntegrity)
	}
	report.File = manifest.File
	report.ManifestCount = manifest.Count

	batchID := batchIDFromKey(segmentKey)
	found, malformed, err := scanSegmentFile(manifest.File, batchID, nil)
	if err != nil {
		return report, err
	}
	report.FoundCount = found
	report.MalformedLines = malformed

	if found != manifest.Count {
		return report, fmt.Errorf("segment %s has %d of %d members: %w",
			segmentKey, found, manifest.Count, store.ErrIntegrity)
	}

	report.OK = true
	return report, nil
}

// LookupArchived returns the archived memory for the given id from a
// segment, retrieved byte-for-byte from the JSONL file.
func LookupArchived(db *store.DB, segmentKey, memoryID string) (*ArchivedMemory, error) {
	seg, err := db.GetSegment(segmentKey)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, fmt.Errorf("segment %s not found", segmentKey)
	}
	if Checksum([]byte(seg.PayloadJSON)) != seg.Checksum {
		return nil, fmt.Errorf("segment %s manifest: %w", segmentKey, store.ErrIntegrity)
	}

	var manifest Manifest
	if err := json.Unmarshal([]byte(seg.PayloadJSON), &manifest); err != nil {
		return nil, fmt.Errorf("segment %s manifest: %w", segmentKey, store.ErrIntegrity)
	}

	var match *ArchivedMemory
	_, _, err = scanSegmentFile(manifest.File, batchIDFromKey(segmentKey), func(line *Line) {
		if line.Memory.ID == memoryID {
			m := line.Memory
			match = &m
		}
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("memory %s not in segment %s", memoryID, segmentKey)
	}
	return match, nil
}

// scanSegmentFile walks one JSONL file, counting lines that belong to the
// batch and skipping anything unparseable. A missing file surfaces the
// underlying fs error so callers can tell "lost" from "damaged".
func scanSegmentFile(file, batchID string, visit func(*Line)) (found, malformed int, err error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, 0, fmt.Errorf("open segment file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(raw, &line); err != nil || line.Memory.ID == "" {
			malformed++
			continue
		}
		if batchID != "" && line.BatchID != batchID {
			continue
		}
		found++
		if visit != nil {
			visit(&line)
		}
	}
	if err := scanner.Err(); err != nil {
		return found, malformed, fmt.Errorf("scan segment file: %w", err)
	}
	return found, malformed, nil
}

// batchIDFromKey extracts the batch id from memory_archive:<month>:<batchId>.
func batchIDFromKey(segmentKey string) string {
	for i := len(segmentKey) - 1; i >= 0; i-- {
		if segmentKey[i] == ':' {
			return segmentKey[i+1:]
		}
	}
	return ""
}
