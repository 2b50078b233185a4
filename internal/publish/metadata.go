package publish

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/rssrn/birdbird/internal/highlights"
)

// Summary describes the batch content. It is part of the fingerprint, so it
// holds nothing that changes between runs over the same input.
type Summary struct {
	OriginalDate       string                    `json:"original_date"`
	StartDate          string                    `json:"start_date"`
	EndDate            string                    `json:"end_date"`
	ClipCount          int                       `json:"clip_count"`
	ActiveClipCount    int                       `json:"active_clip_count"`
	SegmentCount       int                       `json:"segment_count"`
	OriginalDuration   float64                   `json:"original_duration"`
	HighlightsDuration float64                   `json:"highlights_duration"`
	SpeciesCounts      map[string]int            `json:"species_counts"`
	Excluded           []highlights.ExcludedClip `json:"excluded_clips,omitempty"`
	Malformed          map[string]int            `json:"malformed_events,omitempty"`
	ClockSuspect       bool                      `json:"clock_suspect,omitempty"`
}

// Metadata is the published metadata.json of a batch.
type Metadata struct {
	BatchID     string    `json:"batch_id"`
	Uploaded    time.Time `json:"uploaded"`
	ContentHash string    `json:"content_hash"`
	Summary
}

// IndexEntry returns the index listing for this batch.
func (m *Metadata) IndexEntry() IndexEntry {
	return IndexEntry{
		ID:                 m.BatchID,
		Uploaded:           m.Uploaded,
		OriginalDate:       m.OriginalDate,
		StartDate:          m.StartDate,
		EndDate:            m.EndDate,
		ClipCount:          m.ClipCount,
		HighlightsDuration: m.HighlightsDuration,
		ContentHash:        m.ContentHash,
	}
}

// Fingerprint hashes the reel checksum, the windows document and the
// summary. Identical input yields an identical fingerprint.
func Fingerprint(reelMD5 string, windows []byte, summary *Summary) (string, error) {
	s, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(reelMD5))
	h.Write([]byte{0})
	h.Write(windows)
	h.Write([]byte{0})
	h.Write(s)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// md5Hex returns the hex MD5 of r.
func md5Hex(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
